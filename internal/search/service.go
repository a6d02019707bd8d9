// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tessera-ai/retriever/internal/logging"
	"github.com/tessera-ai/retriever/internal/metrics"
	"github.com/tessera-ai/retriever/internal/models"
	"github.com/tessera-ai/retriever/internal/timeline"
)

// Timeline step names emitted by the orchestrator.
const (
	StepCacheHit          = "search.cache.hit"
	StepCacheMiss         = "search.cache.miss"
	StepEngineStarted     = "search.engine.started"
	StepEngineCandidates  = "search.engine.candidates"
	StepPipelineStarted   = "rag.pipeline.started"
	StepPipelineCompleted = "rag.pipeline.completed"
	StepResponseCached    = "response.cached"
	StepResponseCompleted = "response.completed"
)

// Result sources reported in response.completed.
const (
	SourceLive        = "live"
	SourceCache       = "cache"
	SourcePrecomputed = "precomputed"
)

// candidateSummaryLimit caps the candidate and result summaries on the
// timeline.
const candidateSummaryLimit = 5

// Request is one admitted search, already fingerprinted by the caller.
type Request struct {
	Query             string
	ProductsK         int
	ReviewsPerProduct int

	// QueryHash is the fingerprint-derived correlation key.
	QueryHash string

	// Extra is the fingerprint extra (identity fields), echoed on the
	// engine-started event.
	Extra map[string]any

	// Guest selects the guest TTL and cache scope.
	Guest bool

	// BypassCache forces a fresh engine run; the result is still stored.
	BypassCache bool
}

// Hook runs between building the response and emitting response.completed.
// The dispatcher uses it to persist the result into the job registry so the
// result endpoint observes completion before any timeline client does.
type Hook func(ctx context.Context, result *models.SearchResponse) error

// Config tunes the orchestrator.
type Config struct {
	BatchingEnabled bool
	BatchSize       int
}

// Service drives the pipeline for one submission at a time per query hash.
type Service struct {
	store    *Store
	bus      *timeline.Bus
	engine   Engine
	pipeline Pipeline
	metrics  *metrics.Metrics
	cfg      Config
}

// NewService wires the orchestrator. metrics may be nil.
func NewService(store *Store, bus *timeline.Bus, engine Engine, pipeline Pipeline, m *metrics.Metrics, cfg Config) *Service {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Service{store: store, bus: bus, engine: engine, pipeline: pipeline, metrics: m, cfg: cfg}
}

// Store exposes the multi-tier cache for the admin surface.
func (s *Service) Store() *Store { return s.store }

// SearchProducts runs the full pipeline and returns the final response. On
// error nothing is emitted beyond the steps already published; the caller
// marks the job failed.
func (s *Service) SearchProducts(ctx context.Context, req Request, before Hook) (*models.SearchResponse, error) {
	emit := func(step string, payload map[string]any) {
		if _, err := s.bus.Publish(ctx, req.QueryHash, step, payload); err != nil {
			logging.Warn().Err(err).Str("step", step).Msg("Timeline publish failed")
		}
	}
	scope := "user"
	if req.Guest {
		scope = "guest"
	}

	// Curated answers short-circuit everything else.
	if !req.BypassCache {
		response, source, err := s.store.LookupPrecomputed(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		if response != nil {
			s.metrics.RecordPrecomputedServed()
			emit(StepResponseCached, map[string]any{
				"source":              SourcePrecomputed,
				"tier":                source,
				"query":               req.Query,
				"products_k":          req.ProductsK,
				"reviews_per_product": req.ReviewsPerProduct,
			})
			return s.complete(ctx, req, response, SourcePrecomputed, scope, "", before, emit)
		}
	}

	cacheKey := s.store.ResponseKey(req.QueryHash)

	// Step 1: per-request cache.
	missReason := ""
	switch {
	case !s.store.Enabled():
		missReason = "disabled"
	case req.BypassCache:
		missReason = "bypass"
	default:
		cached, err := s.store.GetCachedResponse(ctx, cacheKey, ScopeResponse)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			emit(StepCacheHit, map[string]any{
				"cache_key":     cacheKey,
				"scope":         scope,
				"bypass_cache":  req.BypassCache,
				"cache_enabled": true,
			})
			return s.complete(ctx, req, cached, SourceCache, scope, cacheKey, before, emit)
		}
		missReason = "not_found"
	}
	emit(StepCacheMiss, map[string]any{
		"cache_key":     cacheKey,
		"scope":         scope,
		"bypass_cache":  req.BypassCache,
		"cache_enabled": s.store.Enabled(),
		"reason":        missReason,
	})

	// Step 2: retrieval.
	emit(StepEngineStarted, map[string]any{
		"query":               req.Query,
		"products_k":          req.ProductsK,
		"reviews_per_product": req.ReviewsPerProduct,
		"fingerprint_extra":   req.Extra,
		"cache_scope":         scope,
	})
	products, err := s.engine.HybridSearch(ctx, req.Query, req.ProductsK, req.ReviewsPerProduct, emit)
	if err != nil {
		return nil, fmt.Errorf("retrieval engine: %w", err)
	}

	emit(StepEngineCandidates, map[string]any{
		"count":      len(products),
		"candidates": summarizeResults(products),
	})

	// Step 3: analysis.
	emit(StepPipelineStarted, map[string]any{
		"product_count":      len(products),
		"batching_enabled":   s.cfg.BatchingEnabled,
		"default_chunk_size": s.cfg.BatchSize,
	})
	analyses, err := s.pipeline.GenerateBatchExplanations(ctx, req.Query, products, emit)
	if err != nil {
		return nil, fmt.Errorf("analysis pipeline: %w", err)
	}
	attachAnalyses(products, analyses)
	emit(StepPipelineCompleted, map[string]any{
		"analysis_count": len(analyses),
		"product_count":  len(products),
	})

	response := &models.SearchResponse{
		Query:   req.Query,
		Count:   len(products),
		Results: products,
	}

	// Step 4: store. A failed or skipped store never fails the search.
	if s.store.Enabled() {
		ttl := s.store.TTLFor(req.Guest)
		stored, err := s.store.StoreCachedResponse(ctx, cacheKey, response, ttl, ScopeResponse)
		if err != nil {
			return nil, err
		}
		if stored {
			emit(StepResponseCached, map[string]any{
				"cache_key":   cacheKey,
				"ttl_seconds": int(ttl.Seconds()),
				"scope":       scope,
			})
		}
	}

	return s.complete(ctx, req, response, SourceLive, scope, cacheKey, before, emit)
}

// complete invokes the before-completion hook, then announces completion.
// The hook must run first: it is the synchronization that makes the result
// endpoint consistent with the completion event.
func (s *Service) complete(ctx context.Context, req Request, response *models.SearchResponse, source, scope, cacheKey string, before Hook, emit EmitFunc) (*models.SearchResponse, error) {
	if before != nil {
		if err := before(ctx, response); err != nil {
			return nil, fmt.Errorf("before-completion hook: %w", err)
		}
	}
	emit(StepResponseCompleted, map[string]any{
		"source":        source,
		"scope":         scope,
		"cache_key":     cacheKey,
		"result_count":  response.Count,
		"results":       summarizeResults(response.Results),
		"response_hash": responseHash(response),
	})
	logging.Info().
		Str("query_hash", req.QueryHash).
		Str("source", source).
		Int("result_count", response.Count).
		Msg("Search completed")
	return response, nil
}

// summarizeResults returns compact summaries of up to five results.
func summarizeResults(results []models.ProductSearchResult) []map[string]any {
	limit := len(results)
	if limit > candidateSummaryLimit {
		limit = candidateSummaryLimit
	}
	out := make([]map[string]any, 0, limit)
	for _, r := range results[:limit] {
		summary := map[string]any{
			"asin":          r.ASIN,
			"product_title": r.ProductTitle,
		}
		if r.Similarity != nil {
			summary["similarity"] = *r.Similarity
		}
		if r.CombinedScore != nil {
			summary["combined_score"] = *r.CombinedScore
		}
		out = append(out, summary)
	}
	return out
}

// attachAnalyses links analyses to products by ASIN.
func attachAnalyses(products []models.ProductSearchResult, analyses []models.ProductAnalysis) {
	byASIN := make(map[string]models.ProductAnalysis, len(analyses))
	for _, a := range analyses {
		byASIN[a.ASIN] = a
	}
	for i := range products {
		if a, ok := byASIN[products[i].ASIN]; ok {
			analysis := a
			products[i].Analysis = &analysis
		}
	}
}

func responseHash(response *models.SearchResponse) string {
	raw, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
