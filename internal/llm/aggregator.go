package llm

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// ChatProvider is one model identifier behind an OpenAI-chat-compatible
// aggregator endpoint. Each model gets its own circuit breaker so a provider
// that keeps failing is skipped quickly instead of burning its timeout on
// every request.
type ChatProvider struct {
	model   string
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewChatProvider builds a provider for one model behind the aggregator at
// baseURL.
func NewChatProvider(baseURL, apiKey, model string, timeout time.Duration) *ChatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    model,
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &ChatProvider{
		model:   model,
		client:  openai.NewClientWithConfig(cfg),
		breaker: breaker,
		timeout: timeout,
	}
}

func (p *ChatProvider) Name() string {
	return p.model
}

// Generate issues a non-streaming chat completion with a bounded timeout.
func (p *ChatProvider) Generate(ctx context.Context, req Request) (string, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		resp, err := p.client.CreateChatCompletion(attemptCtx, p.chatRequest(req, false))
		if err != nil {
			return nil, normalizeOpenAIErr(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return nil, &ProviderError{Provider: p.model, Kind: ErrKindMalformed, Err: errors.New("empty completion payload")}
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return "", pe
		}
		return "", wrapProviderErr(p.model, err)
	}
	return out.(string), nil
}

// GenerateStream opens a streaming chat completion. Only the connection
// attempt counts against the breaker; once the stream is established the
// provider is committed for this call.
func (p *ChatProvider) GenerateStream(ctx context.Context, req Request) (<-chan Fragment, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		stream, err := p.client.CreateChatCompletionStream(ctx, p.chatRequest(req, true))
		if err != nil {
			return nil, normalizeOpenAIErr(err)
		}
		return stream, nil
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, wrapProviderErr(p.model, err)
	}
	stream := out.(*openai.ChatCompletionStream)

	ch := make(chan Fragment)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case ch <- Fragment{Err: wrapProviderErr(p.model, err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- Fragment{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *ChatProvider) chatRequest(req Request, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

// normalizeOpenAIErr converts go-openai API errors into statusError so the
// failure kind is distinguishable from connection problems.
func normalizeOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &statusError{status: apiErr.HTTPStatusCode, body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &statusError{status: reqErr.HTTPStatusCode, body: reqErr.Error()}
	}
	return err
}
