package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// LocalProvider talks the line-delimited-JSON protocol of a local model
// server: request {model, prompt, stream, options}, response frames
// {response, done} terminated by done=true. It is the privacy-preserving
// baseline the fallback chain always ends on.
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// NewLocalProvider builds a client for the local model endpoint.
func NewLocalProvider(baseURL, model string, timeout time.Duration) *LocalProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LocalProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

func (p *LocalProvider) Name() string {
	return "local/" + p.model
}

type localGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

func (p *LocalProvider) buildRequest(req Request, stream bool) localGenerateRequest {
	return localGenerateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		Stream: stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"top_p":       0.9,
			"top_k":       40,
			"num_predict": req.MaxTokens,
		},
	}
}

func (p *LocalProvider) post(ctx context.Context, body localGenerateRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &statusError{status: resp.StatusCode, body: string(snippet)}
	}
	return resp, nil
}

// Generate issues a non-streaming completion with a bounded timeout.
func (p *LocalProvider) Generate(ctx context.Context, req Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.post(attemptCtx, p.buildRequest(req, false))
	if err != nil {
		return "", wrapProviderErr(p.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wrapProviderErr(p.Name(), err)
	}

	text := gjson.GetBytes(body, "response")
	if !text.Exists() {
		return "", &ProviderError{Provider: p.Name(), Kind: ErrKindMalformed, Err: fmt.Errorf("missing response field in payload")}
	}
	return text.String(), nil
}

// GenerateStream opens a streaming completion and yields one Fragment per
// protocol frame. The response body is tied to ctx, so caller cancellation
// closes the upstream connection.
func (p *LocalProvider) GenerateStream(ctx context.Context, req Request) (<-chan Fragment, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, wrapProviderErr(p.Name(), err)
	}

	ch := make(chan Fragment)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if !gjson.ValidBytes(line) {
				select {
				case ch <- Fragment{Err: &ProviderError{Provider: p.Name(), Kind: ErrKindMalformed, Err: fmt.Errorf("unparseable stream frame")}}:
				case <-ctx.Done():
				}
				return
			}

			frame := gjson.ParseBytes(line)
			if text := frame.Get("response").String(); text != "" {
				select {
				case ch <- Fragment{Text: text}:
				case <-ctx.Done():
					return
				}
			}
			if frame.Get("done").Bool() {
				return
			}
		}

		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			select {
			case ch <- Fragment{Err: wrapProviderErr(p.Name(), err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
