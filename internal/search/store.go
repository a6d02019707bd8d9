// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package search

import (
	"context"
	"fmt"
	"time"

	"github.com/tessera-ai/retriever/internal/cache"
	"github.com/tessera-ai/retriever/internal/logging"
	"github.com/tessera-ai/retriever/internal/metrics"
	"github.com/tessera-ai/retriever/internal/models"
)

// Cache scopes used in logs and metric labels.
const (
	ScopeResponse    = "response"
	ScopePrecomputed = "precomputed"
	ScopeCanonical   = "canonical"
)

// StoreConfig tunes the multi-tier response cache.
type StoreConfig struct {
	Enabled bool

	// FailOpen swallows adapter errors: lookups miss, stores no-op. When
	// false, errors propagate to the caller.
	FailOpen bool

	SchemaVersion   int
	MaxPayloadBytes int
	DefaultTTL      time.Duration
	GuestTTL        time.Duration
}

// Store composes a cache adapter with the tier key builders and the payload
// codec. Lookup precedence is canonical, then precomputed, then the
// per-request response cache.
type Store struct {
	adapter cache.Adapter
	cfg     StoreConfig
	metrics *metrics.Metrics
}

// indexEntry is one row of a tier index, keyed by slug.
type indexEntry struct {
	Query string `json:"query"`
	Hash  string `json:"hash"`
}

// NewStore builds the multi-tier cache. metrics may be nil.
func NewStore(adapter cache.Adapter, cfg StoreConfig, m *metrics.Metrics) *Store {
	return &Store{adapter: adapter, cfg: cfg, metrics: m}
}

// Enabled reports whether any tier is active.
func (s *Store) Enabled() bool { return s.cfg.Enabled }

// Backend names the underlying adapter.
func (s *Store) Backend() string { return s.adapter.Name() }

// ResponseKey derives the per-request cache key for a query hash under the
// configured schema version.
func (s *Store) ResponseKey(queryHash string) string {
	return cache.ResponseKey(s.cfg.SchemaVersion, queryHash)
}

// TTLFor picks the response TTL for a cache scope.
func (s *Store) TTLFor(guest bool) time.Duration {
	if guest {
		return s.cfg.GuestTTL
	}
	return s.cfg.DefaultTTL
}

// GetCachedResponse is the simple per-request lookup. A nil response with a
// nil error is a miss.
func (s *Store) GetCachedResponse(ctx context.Context, key, scope string) (*models.SearchResponse, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	blob, err := s.adapter.Get(ctx, key)
	if err != nil {
		return nil, s.failure(scope, "get", key, err)
	}
	if blob == nil {
		s.metrics.RecordCacheMiss(scope)
		return nil, nil
	}
	var response models.SearchResponse
	if err := cache.Deserialize(blob, &response); err != nil {
		return nil, s.failure(scope, "deserialize", key, err)
	}
	s.metrics.RecordCacheHit(scope)
	return &response, nil
}

// StoreCachedResponse writes a per-request entry. It refuses payloads above
// MaxPayloadBytes and reports whether the entry was written.
func (s *Store) StoreCachedResponse(ctx context.Context, key string, response *models.SearchResponse, ttl time.Duration, scope string) (bool, error) {
	if !s.cfg.Enabled {
		return false, nil
	}
	blob, err := cache.Serialize(response)
	if err != nil {
		return false, s.failure(scope, "serialize", key, err)
	}
	if len(blob) > s.cfg.MaxPayloadBytes {
		logging.Warn().
			Str("cache_key", key).
			Int("payload_bytes", len(blob)).
			Int("max_payload_bytes", s.cfg.MaxPayloadBytes).
			Msg("Payload exceeds cache size guard, not stored")
		return false, nil
	}
	if err := s.adapter.Set(ctx, key, blob, ttl); err != nil {
		return false, s.failure(scope, "set", key, err)
	}
	return true, nil
}

// LookupPrecomputed resolves a raw query against the canonical tier first,
// then the precomputed tier. It returns the matched tier name, or an empty
// string on a miss.
func (s *Store) LookupPrecomputed(ctx context.Context, rawQuery string) (*models.SearchResponse, string, error) {
	if !s.cfg.Enabled {
		return nil, "", nil
	}
	canonical := cache.CanonicalizeQuery(rawQuery)

	response, err := s.lookupTier(ctx, cache.CanonicalQueryKey(canonical), cache.CanonicalSlugKey, ScopeCanonical)
	if err != nil {
		return nil, "", err
	}
	if response != nil {
		return response, ScopeCanonical, nil
	}

	response, err = s.lookupTier(ctx, cache.PrecomputedQueryKey(canonical), cache.PrecomputedSlugKey, ScopePrecomputed)
	if err != nil {
		return nil, "", err
	}
	if response != nil {
		return response, ScopePrecomputed, nil
	}
	return nil, "", nil
}

// lookupTier chases query-hash → slug → payload within one tier.
func (s *Store) lookupTier(ctx context.Context, queryKey string, slugKey func(string) string, scope string) (*models.SearchResponse, error) {
	slugBytes, err := s.adapter.Get(ctx, queryKey)
	if err != nil {
		return nil, s.failure(scope, "get", queryKey, err)
	}
	if slugBytes == nil {
		s.metrics.RecordCacheMiss(scope)
		return nil, nil
	}

	payloadKey := slugKey(string(slugBytes))
	blob, err := s.adapter.Get(ctx, payloadKey)
	if err != nil {
		return nil, s.failure(scope, "get", payloadKey, err)
	}
	if blob == nil {
		s.metrics.RecordCacheMiss(scope)
		return nil, nil
	}

	var response models.SearchResponse
	if err := cache.Deserialize(blob, &response); err != nil {
		return nil, s.failure(scope, "deserialize", payloadKey, err)
	}
	s.metrics.RecordCacheHit(scope)
	return &response, nil
}

// StorePrecomputed writes payload, query→slug mapping, and the index row,
// all TTL-bounded.
func (s *Store) StorePrecomputed(ctx context.Context, slug, query string, response *models.SearchResponse, ttl time.Duration) error {
	if !s.cfg.Enabled {
		return fmt.Errorf("cache disabled")
	}
	canonical := cache.CanonicalizeQuery(query)
	blob, err := cache.Serialize(response)
	if err != nil {
		return fmt.Errorf("serialize precomputed payload: %w", err)
	}

	if err := s.adapter.Set(ctx, cache.PrecomputedSlugKey(slug), blob, ttl); err != nil {
		return s.failure(ScopePrecomputed, "set", slug, err)
	}
	if err := s.adapter.Set(ctx, cache.PrecomputedQueryKey(canonical), []byte(slug), ttl); err != nil {
		return s.failure(ScopePrecomputed, "set", slug, err)
	}
	return s.updateIndex(ctx, cache.PrecomputedIndexKey, ScopePrecomputed, func(index map[string]indexEntry) {
		index[slug] = indexEntry{Query: canonical, Hash: cache.QueryTextHash(canonical)}
	}, ttl)
}

// StoreCanonical writes the persistent counterpart of StorePrecomputed.
func (s *Store) StoreCanonical(ctx context.Context, slug, query string, response *models.SearchResponse) error {
	if !s.cfg.Enabled {
		return fmt.Errorf("cache disabled")
	}
	canonical := cache.CanonicalizeQuery(query)
	blob, err := cache.Serialize(response)
	if err != nil {
		return fmt.Errorf("serialize canonical payload: %w", err)
	}

	if err := s.adapter.SetPersistent(ctx, cache.CanonicalSlugKey(slug), blob); err != nil {
		return s.failure(ScopeCanonical, "set_persistent", slug, err)
	}
	if err := s.adapter.SetPersistent(ctx, cache.CanonicalQueryKey(canonical), []byte(slug)); err != nil {
		return s.failure(ScopeCanonical, "set_persistent", slug, err)
	}
	return s.updateIndex(ctx, cache.CanonicalIndexKey, ScopeCanonical, func(index map[string]indexEntry) {
		index[slug] = indexEntry{Query: canonical, Hash: cache.QueryTextHash(canonical)}
	}, 0)
}

// DeletePrecomputed removes a slug from both tiers and both indices. It is
// idempotent: removed is true even when some keys were already absent. The
// canonical query is resolved from the indices when not supplied.
func (s *Store) DeletePrecomputed(ctx context.Context, slug, query string) (string, error) {
	if !s.cfg.Enabled {
		return "", fmt.Errorf("cache disabled")
	}

	canonical := cache.CanonicalizeQuery(query)
	if canonical == "" {
		canonical = s.resolveQueryFromIndices(ctx, slug)
	}

	keys := []string{
		cache.PrecomputedSlugKey(slug),
		cache.CanonicalSlugKey(slug),
	}
	if canonical != "" {
		keys = append(keys,
			cache.PrecomputedQueryKey(canonical),
			cache.CanonicalQueryKey(canonical),
		)
	}
	for _, key := range keys {
		if err := s.adapter.Delete(ctx, key); err != nil {
			if ferr := s.failure(ScopePrecomputed, "delete", key, err); ferr != nil {
				return canonical, ferr
			}
		}
	}

	removeSlug := func(index map[string]indexEntry) { delete(index, slug) }
	if err := s.updateIndex(ctx, cache.PrecomputedIndexKey, ScopePrecomputed, removeSlug, s.cfg.GuestTTL); err != nil {
		return canonical, err
	}
	if err := s.updateIndex(ctx, cache.CanonicalIndexKey, ScopeCanonical, removeSlug, 0); err != nil {
		return canonical, err
	}
	return canonical, nil
}

// ListPrecomputed returns the precomputed index rows.
func (s *Store) ListPrecomputed(ctx context.Context) ([]models.PrecomputedEntry, error) {
	if !s.cfg.Enabled {
		return nil, fmt.Errorf("cache disabled")
	}
	index, err := s.readIndex(ctx, cache.PrecomputedIndexKey, ScopePrecomputed)
	if err != nil {
		return nil, err
	}
	items := make([]models.PrecomputedEntry, 0, len(index))
	for slug, entry := range index {
		items = append(items, models.PrecomputedEntry{Slug: slug, Query: entry.Query, Hash: entry.Hash})
	}
	return items, nil
}

func (s *Store) resolveQueryFromIndices(ctx context.Context, slug string) string {
	for _, key := range []string{cache.CanonicalIndexKey, cache.PrecomputedIndexKey} {
		index, err := s.readIndex(ctx, key, ScopePrecomputed)
		if err != nil {
			continue
		}
		if entry, ok := index[slug]; ok {
			return entry.Query
		}
	}
	return ""
}

func (s *Store) readIndex(ctx context.Context, key, scope string) (map[string]indexEntry, error) {
	blob, err := s.adapter.Get(ctx, key)
	if err != nil {
		return nil, s.failure(scope, "get", key, err)
	}
	index := make(map[string]indexEntry)
	if blob == nil {
		return index, nil
	}
	if err := cache.Deserialize(blob, &index); err != nil {
		return nil, s.failure(scope, "deserialize", key, err)
	}
	return index, nil
}

// updateIndex does a read-modify-write of one index. A zero TTL writes
// persistently.
func (s *Store) updateIndex(ctx context.Context, key, scope string, mutate func(map[string]indexEntry), ttl time.Duration) error {
	index, err := s.readIndex(ctx, key, scope)
	if err != nil {
		return err
	}
	if index == nil {
		return nil
	}
	mutate(index)

	blob, err := cache.Serialize(index)
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}
	if ttl > 0 {
		err = s.adapter.Set(ctx, key, blob, ttl)
	} else {
		err = s.adapter.SetPersistent(ctx, key, blob)
	}
	if err != nil {
		return s.failure(scope, "set", key, err)
	}
	return nil
}

// failure applies the fail-open policy to one adapter error: record the
// metric, log, and either swallow (nil) or propagate.
func (s *Store) failure(scope, op, key string, err error) error {
	s.metrics.RecordCacheError(scope, op)
	logging.Warn().
		Err(err).
		Str("scope", scope).
		Str("operation", op).
		Str("cache_key", key).
		Bool("fail_open", s.cfg.FailOpen).
		Msg("Cache operation failed")
	if s.cfg.FailOpen {
		return nil
	}
	return err
}
