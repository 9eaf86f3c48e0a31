package statusapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestLogger(s.config.Verbose))
	r.Use(prometheusMiddleware)
	r.Use(recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/session", s.handleGetSession)
		r.Put("/session/scope", s.handleSetScope)
		r.Get("/view", s.handleGetView)
		r.Get("/history", s.handleGetHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/simulate", s.handleSimulate)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
