package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sahaay-labs/sahaay/internal/api"
	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/sahaay-labs/sahaay/internal/llm"
	"github.com/sahaay-labs/sahaay/internal/service"
)

// AnswerService is the orchestrator surface the HTTP layer consumes.
type AnswerService interface {
	Answer(ctx context.Context, input service.AnswerInput) (*domain.StructuredAnswer, error)
	AnswerStream(ctx context.Context, input service.AnswerInput) (<-chan llm.Fragment, error)
}

type AskHandler struct {
	svc AnswerService
}

func NewAskHandler(svc AnswerService) *AskHandler {
	return &AskHandler{svc: svc}
}

type AskRequest struct {
	Query          string `json:"query"`
	Language       string `json:"language,omitempty"`
	IncludeSources bool   `json:"include_sources,omitempty"`
}

// StreamFragment is one SSE payload on the streaming endpoint.
type StreamFragment struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := h.svc.Answer(r.Context(), service.AnswerInput{
		Query:          req.Query,
		Language:       req.Language,
		IncludeSources: req.IncludeSources,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, answer)
}

// AskStream serves generation output as Server-Sent Events. Each event is a
// JSON StreamFragment; the stream terminates with a [DONE] sentinel.
func (h *AskHandler) AskStream(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, err := h.svc.AnswerStream(r.Context(), service.AnswerInput{
		Query:          req.Query,
		Language:       req.Language,
		IncludeSources: req.IncludeSources,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for fragment := range ch {
		sf := StreamFragment{Text: fragment.Text}
		if fragment.Err != nil {
			sf = StreamFragment{Error: fragment.Err.Error()}
		}
		payload, err := json.Marshal(sf)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		if fragment.Err != nil {
			break
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
