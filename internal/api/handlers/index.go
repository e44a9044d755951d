package handlers

import (
	"context"
	"net/http"

	"github.com/sahaay-labs/sahaay/internal/api"
)

// IndexService is the retrieval-index admin surface.
type IndexService interface {
	Count(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

type IndexHandler struct {
	svc IndexService
}

func NewIndexHandler(svc IndexService) *IndexHandler {
	return &IndexHandler{svc: svc}
}

type IndexStatsResponse struct {
	ChunkCount int64 `json:"chunk_count"`
}

func (h *IndexHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.Count(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, IndexStatsResponse{ChunkCount: count})
}

func (h *IndexHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAll(r.Context()); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]any{"status": "ok"})
}
