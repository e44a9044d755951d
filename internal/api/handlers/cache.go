package handlers

import (
	"net/http"

	"github.com/sahaay-labs/sahaay/internal/api"
	"github.com/sahaay-labs/sahaay/internal/cache"
)

type CacheHandler struct {
	store cache.Store
}

func NewCacheHandler(store cache.Store) *CacheHandler {
	return &CacheHandler{store: store}
}

type CacheStatsResponse struct {
	Size      int64   `json:"size"`
	HitCount  int64   `json:"hit_count"`
	MissCount int64   `json:"miss_count"`
	HitRate   float64 `json:"hit_rate"`
}

func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()

	var hitRate float64
	if total := stats.HitCount + stats.MissCount; total > 0 {
		hitRate = float64(stats.HitCount) / float64(total)
	}

	api.Success(w, http.StatusOK, CacheStatsResponse{
		Size:      stats.Size,
		HitCount:  stats.HitCount,
		MissCount: stats.MissCount,
		HitRate:   hitRate,
	})
}

// Clear drops cached entries. With ?namespace= only that namespace is cleared;
// without it the whole cache is dropped.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")

	var err error
	if namespace != "" {
		switch namespace {
		case cache.NamespaceEmbedding, cache.NamespaceRetrieval, cache.NamespaceResponse:
			err = h.store.ClearNamespace(namespace)
		default:
			api.Error(w, http.StatusBadRequest, "unknown namespace")
			return
		}
	} else {
		err = h.store.Clear()
	}

	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]any{"status": "ok"})
}
