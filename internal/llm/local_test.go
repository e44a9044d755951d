package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req localGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		fmt.Fprint(w, `{"response": "call the 1930 helpline", "done": true}`)
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model", time.Second)

	out, err := provider.Generate(context.Background(), Request{Prompt: "help"})
	require.NoError(t, err)
	assert.Equal(t, "call the 1930 helpline", out)
}

func TestLocalProvider_Generate_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model", time.Second)

	_, err := provider.Generate(context.Background(), Request{Prompt: "help"})
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindStatus, pe.Kind)
	assert.Equal(t, "local/test-model", pe.Provider)
}

func TestLocalProvider_Generate_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected": "shape"}`)
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model", time.Second)

	_, err := provider.Generate(context.Background(), Request{Prompt: "help"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindMalformed, pe.Kind)
}

func TestLocalProvider_Generate_ConnectionRefused(t *testing.T) {
	provider := NewLocalProvider("http://127.0.0.1:1", "test-model", time.Second)

	_, err := provider.Generate(context.Background(), Request{Prompt: "help"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindRefused, pe.Kind)
}

func TestLocalProvider_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req localGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`{"response": "Call ", "done": false}`,
			`{"response": "1930 now.", "done": false}`,
			`{"response": "", "done": true}`,
		} {
			fmt.Fprintln(w, frame)
			flusher.Flush()
		}
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model", time.Second)

	ch, err := provider.GenerateStream(context.Background(), Request{Prompt: "help"})
	require.NoError(t, err)

	var parts []string
	for frag := range ch {
		require.NoError(t, frag.Err)
		parts = append(parts, frag.Text)
	}
	assert.Equal(t, []string{"Call ", "1930 now."}, parts)
}

func TestLocalProvider_GenerateStream_MalformedFrameIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"response": "ok", "done": false}`)
		flusher.Flush()
		fmt.Fprintln(w, `this is not json`)
		flusher.Flush()
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model", time.Second)

	ch, err := provider.GenerateStream(context.Background(), Request{Prompt: "help"})
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "ok", first.Text)

	second := <-ch
	require.Error(t, second.Err)
	var pe *ProviderError
	require.ErrorAs(t, second.Err, &pe)
	assert.Equal(t, ErrKindMalformed, pe.Kind)

	_, open := <-ch
	assert.False(t, open)
}

func TestLocalProvider_GenerateStream_CancelStopsConsumption(t *testing.T) {
	frames := make(chan string)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		// Headers must go out before blocking, or the client never sees the
		// connection succeed.
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for frame := range frames {
			if _, err := fmt.Fprintln(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer server.Close()
	defer close(frames)

	ctx, cancel := context.WithCancel(context.Background())
	provider := NewLocalProvider(server.URL, "test-model", time.Second)

	ch, err := provider.GenerateStream(ctx, Request{Prompt: "help"})
	require.NoError(t, err)

	frames <- `{"response": "partial", "done": false}`
	frag := <-ch
	assert.Equal(t, "partial", frag.Text)

	cancel()

	// The channel must close promptly without requiring more upstream frames.
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}
