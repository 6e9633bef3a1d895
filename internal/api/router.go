package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-nova/tabyctl/internal/logging"
	"github.com/micro-nova/tabyctl/internal/metrics"
)

// NewRouter creates and returns the HTTP router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(logging.RequestLogger(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)
	if deps.Metrics != nil {
		r.Use(metrics.RequestMiddleware(deps.Metrics))
	}

	h := &Handlers{Deps: deps}

	r.Route("/api", func(r chi.Router) {
		r.Get("/", h.getStatus)
		r.Get("/status", h.getStatus)
		r.Get("/instances", h.getInstances)
		r.Get("/instances/{id}", h.getInstance)
		r.Post("/instances/{id}/stop", h.stopInstance)
		r.Get("/queue", h.getQueue)
		r.Post("/queue", h.addToQueue)
		r.Post("/commands", h.execCommand)
		r.Get("/subscribe", h.sseEvents)
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler(nil))
	}
	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
