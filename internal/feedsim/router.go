package feedsim

import (
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	if s.config.Token != "" {
		r.Use(s.requireToken)
	}

	// The websocket route stays outside the request logger: wrapping the
	// ResponseWriter would hide the Hijacker the upgrade needs.
	r.Get("/ws/city/{city}", s.handleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requestLogger)

		r.Get("/metrics/environment/{city}/history", s.handleEnvironmentHistory)
		r.Get("/metrics/traffic/{city}", s.handleTraffic)
		r.Get("/risk/{city}/history", s.handleRiskHistory)
		r.Get("/risk/{city}", s.handleRisk)
		r.Get("/alerts/{city}", s.handleAlerts)
		r.Get("/anomalies/{city}", s.handleAnomalies)
		r.Post("/scenario/simulate/{city}", s.handleSimulate)
	})

	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		if s.config.Verbose || sw.status >= 400 {
			log.Printf("[feedsim] %s %s %d %v", r.Method, r.URL.Path, sw.status, time.Since(start))
		}
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.config.Token {
			writeDetail(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[feedsim] panic: %v\n%s", rec, debug.Stack())
				writeDetail(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
