// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package metrics exposes Prometheus instrumentation for the cache tiers,
// search jobs, and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on its own registry so tests can construct
// a fresh instance per case. All record methods are nil-safe, which keeps
// metrics optional when wiring components directly.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	cacheErrors       *prometheus.CounterVec
	precomputedServed prometheus.Counter
	searchJobs        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by scope.",
		}, []string{"scope"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache misses by scope.",
		}, []string{"scope"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Cache adapter errors by scope and operation.",
		}, []string{"scope", "operation"}),
		precomputedServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guest_precomputed_served_total",
			Help: "Searches answered from the precomputed or canonical tier.",
		}),
		searchJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_jobs_total",
			Help: "Background search jobs by terminal status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheErrors,
		m.precomputedServed, m.searchJobs,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// RecordCacheHit counts one hit for a scope (response, precomputed, canonical).
func (m *Metrics) RecordCacheHit(scope string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(scope).Inc()
}

// RecordCacheMiss counts one miss for a scope.
func (m *Metrics) RecordCacheMiss(scope string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(scope).Inc()
}

// RecordCacheError counts one adapter failure.
func (m *Metrics) RecordCacheError(scope, operation string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(scope, operation).Inc()
}

// RecordPrecomputedServed counts one search answered without the engine.
func (m *Metrics) RecordPrecomputedServed() {
	if m == nil {
		return
	}
	m.precomputedServed.Inc()
}

// RecordSearchJob counts one job reaching a terminal status.
func (m *Metrics) RecordSearchJob(status string) {
	if m == nil {
		return
	}
	m.searchJobs.WithLabelValues(status).Inc()
}

// Handler serves /metrics for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the chi route
// pattern so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
