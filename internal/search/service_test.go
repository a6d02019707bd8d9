// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tessera-ai/retriever/internal/cache"
	"github.com/tessera-ai/retriever/internal/models"
	"github.com/tessera-ai/retriever/internal/timeline"
)

type fakeEngine struct {
	calls int
	err   error
}

func (f *fakeEngine) HybridSearch(_ context.Context, query string, productsK, reviewsPerProduct int, emit EmitFunc) ([]models.ProductSearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	emit("search.bq.started", map[string]any{"query": query, "product_candidate_k": productsK * 4})
	emit("search.bq.completed", map[string]any{"rows": 1})
	emit("search.reviews.selected", map[string]any{"review_count": reviewsPerProduct})

	similarity := 0.93
	return []models.ProductSearchResult{{
		ASIN:         "ASIN-1",
		ProductTitle: "Echo Dot",
		Similarity:   &similarity,
		Reviews:      []models.ProductReview{{Text: "love it", Rating: 5}},
	}}, nil
}

type fakePipeline struct {
	calls int
	err   error
}

func (f *fakePipeline) GenerateBatchExplanations(_ context.Context, _ string, products []models.ProductSearchResult, emit EmitFunc) ([]models.ProductAnalysis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	analyses := make([]models.ProductAnalysis, 0, len(products))
	for _, p := range products {
		emit("rag.product.analysis", map[string]any{"asin": p.ASIN})
		analyses = append(analyses, models.ProductAnalysis{ASIN: p.ASIN, Explanation: "matches the query"})
	}
	return analyses, nil
}

type harness struct {
	service  *Service
	store    *Store
	bus      *timeline.Bus
	engine   *fakeEngine
	pipeline *fakePipeline
}

func newHarness(t *testing.T, mutate func(*StoreConfig)) *harness {
	t.Helper()
	cfg := testStoreConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	store := NewStore(cache.NewMemoryAdapter(), cfg, nil)
	bus := timeline.NewBus(nil, timeline.Options{})
	engine := &fakeEngine{}
	pipeline := &fakePipeline{}
	service := NewService(store, bus, engine, pipeline, nil, Config{BatchingEnabled: true, BatchSize: 3})
	return &harness{service: service, store: store, bus: bus, engine: engine, pipeline: pipeline}
}

func steps(t *testing.T, bus *timeline.Bus, hash string) []string {
	t.Helper()
	events, err := bus.Read(context.Background(), hash, "", 1000, 0)
	if err != nil {
		t.Fatalf("Timeline read failed: %v", err)
	}
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Step
	}
	return out
}

func testRequest(hash string) Request {
	return Request{
		Query:             "smart speaker",
		ProductsK:         3,
		ReviewsPerProduct: 3,
		QueryHash:         hash,
		Extra:             map[string]any{"guest": false, "subject": "user-200"},
	}
}

func TestFreshSearchTimelineProtocol(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	hookCalled := false
	hook := func(_ context.Context, result *models.SearchResponse) error {
		hookCalled = true
		if result == nil || result.Count != 1 {
			t.Errorf("Hook received wrong result: %+v", result)
		}
		return nil
	}

	response, err := h.service.SearchProducts(ctx, testRequest("h1"), hook)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if response.Count != 1 || response.Results[0].ASIN != "ASIN-1" {
		t.Errorf("Response wrong: %+v", response)
	}
	if response.Results[0].Analysis == nil || response.Results[0].Analysis.ASIN != "ASIN-1" {
		t.Errorf("Analysis not attached: %+v", response.Results[0].Analysis)
	}
	if !hookCalled {
		t.Error("Before-completion hook not invoked")
	}

	want := []string{
		StepCacheMiss,
		StepEngineStarted,
		"search.bq.started",
		"search.bq.completed",
		"search.reviews.selected",
		StepEngineCandidates,
		StepPipelineStarted,
		"rag.product.analysis",
		StepPipelineCompleted,
		StepResponseCached,
		StepResponseCompleted,
	}
	got := steps(t, h.bus, "h1")
	if len(got) != len(want) {
		t.Fatalf("Timeline has %d steps, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("steps[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSecondRunHitsCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.service.SearchProducts(ctx, testRequest("h1"), nil); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	h.bus.Clear(ctx, "h1")

	response, err := h.service.SearchProducts(ctx, testRequest("h1"), nil)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if response.Count != 1 {
		t.Errorf("Cached response wrong: %+v", response)
	}
	if h.engine.calls != 1 {
		t.Errorf("Engine called %d times, want 1", h.engine.calls)
	}

	got := steps(t, h.bus, "h1")
	want := []string{StepCacheHit, StepResponseCompleted}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Cache-hit timeline = %v, want %v", got, want)
	}
}

func TestBypassCacheForcesFreshRunButStores(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.service.SearchProducts(ctx, testRequest("h1"), nil); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	h.bus.Clear(ctx, "h1")

	req := testRequest("h1")
	req.BypassCache = true
	if _, err := h.service.SearchProducts(ctx, req, nil); err != nil {
		t.Fatalf("Bypass run failed: %v", err)
	}
	if h.engine.calls != 2 {
		t.Errorf("Engine called %d times, want 2 (bypass must not use cache)", h.engine.calls)
	}

	events, _ := h.bus.Read(ctx, "h1", "", 1000, 0)
	if events[0].Step != StepCacheMiss || events[0].Payload["reason"] != "bypass" {
		t.Errorf("First event = %s/%v, want miss with reason bypass", events[0].Step, events[0].Payload["reason"])
	}
	// Result still stored on bypass.
	found := false
	for _, e := range events {
		if e.Step == StepResponseCached {
			found = true
		}
	}
	if !found {
		t.Error("Bypass run did not store the result")
	}
}

func TestCacheDisabledMissReason(t *testing.T) {
	h := newHarness(t, func(cfg *StoreConfig) { cfg.Enabled = false })
	ctx := context.Background()

	if _, err := h.service.SearchProducts(ctx, testRequest("h1"), nil); err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}

	events, _ := h.bus.Read(ctx, "h1", "", 1000, 0)
	if events[0].Step != StepCacheMiss || events[0].Payload["reason"] != "disabled" {
		t.Errorf("First event = %s/%v, want miss with reason disabled", events[0].Step, events[0].Payload["reason"])
	}
	for _, e := range events {
		if e.Step == StepResponseCached {
			t.Error("response.cached emitted with cache disabled")
		}
	}
}

func TestPrecomputedShortCircuit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	curated := &models.SearchResponse{Query: "smart speaker", Count: 1, Results: []models.ProductSearchResult{{ASIN: "CURATED-1"}}}
	if err := h.store.StorePrecomputed(ctx, "speaker", "Smart Speaker", curated, time.Hour); err != nil {
		t.Fatalf("StorePrecomputed failed: %v", err)
	}

	req := testRequest("h1")
	req.Guest = true
	response, err := h.service.SearchProducts(ctx, req, nil)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if response.Results[0].ASIN != "CURATED-1" {
		t.Errorf("Expected curated answer, got %+v", response.Results[0])
	}
	if h.engine.calls != 0 || h.pipeline.calls != 0 {
		t.Errorf("Engine/pipeline invoked on precomputed hit: %d/%d", h.engine.calls, h.pipeline.calls)
	}

	events, _ := h.bus.Read(ctx, "h1", "", 1000, 0)
	if len(events) != 2 {
		t.Fatalf("Precomputed timeline has %d events, want 2", len(events))
	}
	if events[0].Step != StepResponseCached || events[0].Payload["source"] != SourcePrecomputed {
		t.Errorf("First event = %s/%v", events[0].Step, events[0].Payload["source"])
	}
	if events[1].Step != StepResponseCompleted || events[1].Payload["source"] != SourcePrecomputed {
		t.Errorf("Second event = %s/%v", events[1].Step, events[1].Payload["source"])
	}
}

func TestEngineFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.err = errors.New("warehouse unreachable")
	ctx := context.Background()

	_, err := h.service.SearchProducts(ctx, testRequest("h1"), nil)
	if err == nil {
		t.Fatal("Expected engine error to propagate")
	}

	for _, step := range steps(t, h.bus, "h1") {
		if step == StepResponseCompleted {
			t.Error("response.completed emitted after a pipeline failure")
		}
	}
}

func TestPipelineFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.err = errors.New("llm timeout")
	ctx := context.Background()

	if _, err := h.service.SearchProducts(ctx, testRequest("h1"), nil); err == nil {
		t.Fatal("Expected pipeline error to propagate")
	}
}

func TestHookFailureAbortsCompletion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	hook := func(context.Context, *models.SearchResponse) error {
		return errors.New("registry write failed")
	}
	if _, err := h.service.SearchProducts(ctx, testRequest("h1"), hook); err == nil {
		t.Fatal("Expected hook error to propagate")
	}
	for _, step := range steps(t, h.bus, "h1") {
		if step == StepResponseCompleted {
			t.Error("response.completed emitted despite hook failure")
		}
	}
}
