package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func chatCompletionBody(content string) string {
	return fmt.Sprintf(`{
		"id": "cmpl-1",
		"object": "chat.completion",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}]
	}`, content)
}

func TestChatProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "agg-model", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody("structured answer text"))
	}))
	defer server.Close()

	provider := NewChatProvider(server.URL, "test-key", "agg-model", time.Second)

	out, err := provider.Generate(context.Background(), Request{Prompt: "help", Temperature: 0.2, MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "structured answer text", out)
}

func TestChatProvider_Generate_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit"}}`)
	}))
	defer server.Close()

	provider := NewChatProvider(server.URL, "test-key", "agg-model", time.Second)

	_, err := provider.Generate(context.Background(), Request{Prompt: "help"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindStatus, pe.Kind)
	assert.Equal(t, "agg-model", pe.Provider)
}

func TestChatProvider_Generate_EmptyChoicesIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "cmpl-1", "object": "chat.completion", "choices": []}`)
	}))
	defer server.Close()

	provider := NewChatProvider(server.URL, "test-key", "agg-model", time.Second)

	_, err := provider.Generate(context.Background(), Request{Prompt: "help"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindMalformed, pe.Kind)
}

func TestChatProvider_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewChatProvider(server.URL, "test-key", "agg-model", time.Second)

	for i := 0; i < 3; i++ {
		_, err := provider.Generate(context.Background(), Request{Prompt: "help"})
		require.Error(t, err)
	}
	require.Equal(t, 3, calls)

	// Fourth attempt short-circuits without reaching the endpoint.
	_, err := provider.Generate(context.Background(), Request{Prompt: "help"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindRefused, pe.Kind)
	assert.Equal(t, 3, calls)
}

func TestChatProvider_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, delta := range []string{"File a ", "complaint at the portal."} {
			fmt.Fprintf(w, "data: {\"id\":\"cmpl-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	provider := NewChatProvider(server.URL, "test-key", "agg-model", time.Second)

	ch, err := provider.GenerateStream(context.Background(), Request{Prompt: "help"})
	require.NoError(t, err)

	var parts []string
	for frag := range ch {
		require.NoError(t, frag.Err)
		parts = append(parts, frag.Text)
	}
	assert.Equal(t, []string{"File a ", "complaint at the portal."}, parts)
}

func TestChatProvider_GenerateStream_ConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewChatProvider(server.URL, "test-key", "agg-model", time.Second)

	_, err := provider.GenerateStream(context.Background(), Request{Prompt: "help"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrKindStatus, pe.Kind)
}
