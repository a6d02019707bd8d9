// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package jobs tracks background search jobs by query hash. The registry is
// process-local; a single backend instance is assumed.
package jobs

import (
	"sync"
	"time"

	"github.com/tessera-ai/retriever/internal/models"
)

// Record is one job entry. Invariants: a completed record carries a non-nil
// result and no error; a failed record carries an error; UpdatedAt never
// precedes CreatedAt.
type Record struct {
	Query     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Result    *models.SearchResponse
	Error     string
	Metadata  map[string]any
}

// Registry maps query hashes to job records. One mutex guards all mutation;
// reads return deep copies so callers never alias registry state.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewRegistry returns an empty registry. Construct one per process at
// startup; tests construct a fresh instance per case.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// MarkPending creates or resets the entry: result and error are cleared,
// status becomes pending, and metadata is merged over any existing keys.
func (r *Registry) MarkPending(hash, query string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := r.records[hash]
	if !ok {
		rec = &Record{CreatedAt: now, Metadata: make(map[string]any)}
		r.records[hash] = rec
	}
	rec.Query = query
	rec.Status = models.StatusPending
	rec.Result = nil
	rec.Error = ""
	rec.UpdatedAt = now
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
}

// MarkCompleted records the result. The entry is created if missing, which
// covers a lost prior MarkPending.
func (r *Registry) MarkCompleted(hash string, result *models.SearchResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := r.records[hash]
	if !ok {
		rec = &Record{CreatedAt: now, Metadata: make(map[string]any)}
		r.records[hash] = rec
	}
	rec.Status = models.StatusCompleted
	rec.Result = result
	rec.Error = ""
	rec.UpdatedAt = now
}

// MarkFailed records the failure reason.
func (r *Registry) MarkFailed(hash, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := r.records[hash]
	if !ok {
		rec = &Record{CreatedAt: now, Metadata: make(map[string]any)}
		r.records[hash] = rec
	}
	rec.Status = models.StatusFailed
	rec.Error = errMsg
	rec.UpdatedAt = now
}

// Get returns a deep copy of the record, or nil when unknown.
func (r *Registry) Get(hash string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[hash]
	if !ok {
		return nil
	}
	return rec.clone()
}

// Clear removes one entry.
func (r *Registry) Clear(hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, hash)
}

// ResetAll empties the registry. Administrative use only.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*Record)
}

func (rec *Record) clone() *Record {
	out := *rec
	out.Metadata = make(map[string]any, len(rec.Metadata))
	for k, v := range rec.Metadata {
		out.Metadata[k] = v
	}
	if rec.Result != nil {
		out.Result = cloneResponse(rec.Result)
	}
	return &out
}

func cloneResponse(in *models.SearchResponse) *models.SearchResponse {
	out := *in
	out.Results = make([]models.ProductSearchResult, len(in.Results))
	for i := range in.Results {
		out.Results[i] = cloneResult(in.Results[i])
	}
	return &out
}

// cloneResult copies the nested slices and pointer fields so the caller
// cannot write through to registry state.
func cloneResult(in models.ProductSearchResult) models.ProductSearchResult {
	out := in
	if in.Categories != nil {
		out.Categories = append([]string(nil), in.Categories...)
	}
	if in.Reviews != nil {
		out.Reviews = append([]models.ProductReview(nil), in.Reviews...)
	}
	out.Similarity = clonePtr(in.Similarity)
	out.AvgRating = clonePtr(in.AvgRating)
	out.RatingCount = clonePtr(in.RatingCount)
	out.DisplayedRating = clonePtr(in.DisplayedRating)
	out.CombinedScore = clonePtr(in.CombinedScore)
	if in.Analysis != nil {
		analysis := *in.Analysis
		out.Analysis = &analysis
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
