package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sahaay-labs/sahaay/internal/api"
	"github.com/sahaay-labs/sahaay/internal/api/handlers"
	"github.com/sahaay-labs/sahaay/internal/api/middleware"
)

type RouterConfig struct {
	AskHandler   *handlers.AskHandler
	CacheHandler *handlers.CacheHandler
	IndexHandler *handlers.IndexHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 64 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/ask", cfg.AskHandler.Ask)
	r.Post("/ask/stream", cfg.AskHandler.AskStream)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", cfg.CacheHandler.Stats)
		r.Post("/clear", cfg.CacheHandler.Clear)
	})

	r.Route("/index", func(r chi.Router) {
		r.Get("/stats", cfg.IndexHandler.Stats)
		r.Post("/reset", cfg.IndexHandler.Reset)
	})

	return r
}
