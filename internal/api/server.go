// SPDX-License-Identifier: MIT

// Package api exposes the chat-adapter HTTP surface: queue submission and
// inspection, skip/clear controls, probes, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamjuke/streamjuke/internal/command"
	"github.com/streamjuke/streamjuke/internal/health"
)

// Config holds the HTTP surface settings.
type Config struct {
	// Addr is the listen address. The daemon owns the http.Server; the
	// address lives here so probes and logs can report it.
	Addr string
	// Token is the adapter bearer token. Empty leaves the surface open,
	// which pairs with the loopback bind default.
	Token string
	// RatePerMinute caps requests per client IP across the whole
	// /api/v1 surface.
	RatePerMinute int
}

// Server wires the command service and health manager into a chi router.
type Server struct {
	cfg      Config
	commands *command.Service
	health   *health.Manager
}

// New creates the API server.
func New(cfg Config, commands *command.Service, healthMgr *health.Manager) *Server {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 60
	}
	return &Server{
		cfg:      cfg,
		commands: commands,
		health:   healthMgr,
	}
}

// Handler assembles the middleware stack and routes. The daemon mounts the
// returned handler on its http.Server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Outermost safety net first, correlation second.
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(securityHeaders)
	r.Use(httpMetrics)
	r.Use(tracing("juke-api"))
	r.Use(accessLog)

	// Probes and metrics stay outside auth and rate limiting.
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Use(s.requireToken)

		r.Get("/openapi.yaml", serveSpec)
		r.Get("/help", s.handleHelp)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleQueue)
			r.Get("/now", s.handleNowPlaying)
			r.Post("/skip", s.handleSkip)
			r.Delete("/pending", s.handleClear)
		})
	})

	return r
}

// rateLimit caps request volume per client IP with a sliding window.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.cfg.RatePerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			respondError(w, r, http.StatusTooManyRequests, codeRateLimited, "too many requests, try again later")
		}),
	)
}
