// Package llm contains the language-model provider clients and the typed
// per-attempt errors the fallback chain distinguishes for telemetry.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// Request carries one generation attempt. Built fresh per call, never persisted.
type Request struct {
	Prompt      string
	Language    string
	Temperature float32
	MaxTokens   int
}

// Fragment is one element of a streamed generation. A Fragment with Err set is
// terminal: the stream ends after it.
type Fragment struct {
	Text string
	Err  error
}

// Provider is a single language-model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	// GenerateStream returns a finite, non-restartable fragment sequence. The
	// channel is closed when the stream ends; cancelling ctx stops upstream
	// reads promptly.
	GenerateStream(ctx context.Context, req Request) (<-chan Fragment, error)
}

// ErrorKind classifies why a provider attempt failed.
type ErrorKind string

const (
	ErrKindTimeout   ErrorKind = "timeout"
	ErrKindStatus    ErrorKind = "status"
	ErrKindMalformed ErrorKind = "malformed"
	ErrKindRefused   ErrorKind = "refused"
)

// ProviderError is the tagged per-attempt failure surfaced by the fallback chain.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// statusError marks a non-success HTTP status from a provider endpoint.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// wrapProviderErr tags err with the provider name and a failure kind inferred
// from the error chain.
func wrapProviderErr(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: classifyErr(err), Err: err}
}

func classifyErr(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	var se *statusError
	if errors.As(err, &se) {
		return ErrKindStatus
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrKindRefused
	}
	return ErrKindRefused
}
