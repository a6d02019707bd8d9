// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package api is the HTTP dispatch layer: fingerprint init, asynchronous
// submission, result polling, the SSE timeline, the admin cache surface,
// and guest session minting.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/tessera-ai/retriever/internal/auth"
	"github.com/tessera-ai/retriever/internal/config"
	"github.com/tessera-ai/retriever/internal/jobs"
	"github.com/tessera-ai/retriever/internal/metrics"
	"github.com/tessera-ai/retriever/internal/search"
	"github.com/tessera-ai/retriever/internal/timeline"
)

// Server holds the wired components behind the HTTP surface.
type Server struct {
	cfg      *config.Config
	registry *jobs.Registry
	bus      *timeline.Bus
	service  *search.Service
	auth     *auth.Manager
	metrics  *metrics.Metrics
	validate *validator.Validate

	// SSE pacing; tests shorten these.
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// NewServer wires the dispatch layer. metrics may be nil.
func NewServer(cfg *config.Config, registry *jobs.Registry, bus *timeline.Bus, service *search.Service, authMgr *auth.Manager, m *metrics.Metrics) *Server {
	return &Server{
		cfg:               cfg,
		registry:          registry,
		bus:               bus,
		service:           service,
		auth:              authMgr,
		metrics:           m,
		validate:          validator.New(),
		pollInterval:      500 * time.Millisecond,
		heartbeatInterval: 15 * time.Second,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if !s.cfg.RateLimit.Disabled {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit.GuestSession, s.cfg.RateLimit.Window))
		}
		r.Post("/auth/guest", s.handleGuestToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireUser)
		if !s.cfg.RateLimit.Disabled {
			r.Use(s.roleRateLimiter())
		}

		r.Post("/search/init", s.handleSearchInit)
		r.Post("/search", s.handleSearchSubmit)
		r.Get("/search/result/{hash}", s.handleSearchResult)
		r.Get("/timeline/{hash}", s.handleTimeline)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/status", s.handleAdminStatus)
			r.Get("/cache/precomputed", s.handleListPrecomputed)
			r.Put("/cache/precomputed", s.handleUpsertPrecomputed)
			r.Delete("/cache/precomputed/{slug}", s.handleDeletePrecomputed)
		})
	})

	return r
}

// roleRateLimiter applies the per-role request budget, keyed by subject so
// one principal cannot starve another.
func (s *Server) roleRateLimiter() func(http.Handler) http.Handler {
	keyBySubject := httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if identity, ok := auth.FromContext(r.Context()); ok {
			return identity.Subject, nil
		}
		return httprate.KeyByIP(r)
	})

	rl := s.cfg.RateLimit
	guestLimiter := httprate.NewRateLimiter(rl.Guest, rl.Window, keyBySubject)
	userLimiter := httprate.NewRateLimiter(rl.User, rl.Window, keyBySubject)
	adminLimiter := httprate.NewRateLimiter(rl.Admin, rl.Window, keyBySubject)

	return func(next http.Handler) http.Handler {
		guest := guestLimiter.Handler(next)
		user := userLimiter.Handler(next)
		admin := adminLimiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := auth.FromContext(r.Context())
			switch {
			case identity == nil:
				user.ServeHTTP(w, r)
			case identity.Admin():
				admin.ServeHTTP(w, r)
			case identity.Guest():
				guest.ServeHTTP(w, r)
			default:
				user.ServeHTTP(w, r)
			}
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
