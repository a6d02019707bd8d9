// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package models

// PrecomputedUpsertRequest stores a curated answer under a slug. The entry is
// written to both the TTL-bounded precomputed tier and the persistent
// canonical tier.
type PrecomputedUpsertRequest struct {
	Slug       string         `json:"slug" validate:"required"`
	Query      string         `json:"query" validate:"required"`
	Response   SearchResponse `json:"response" validate:"required"`
	TTLSeconds *int           `json:"ttl_seconds,omitempty" validate:"omitempty,min=1"`
}

// PrecomputedEntry is one row of the precomputed index.
type PrecomputedEntry struct {
	Slug  string `json:"slug"`
	Query string `json:"query"`
	Hash  string `json:"hash"`
}

// PrecomputedListResponse lists the precomputed catalogue.
type PrecomputedListResponse struct {
	Items []PrecomputedEntry `json:"items"`
}

// PrecomputedDeleteResponse reports an idempotent delete.
type PrecomputedDeleteResponse struct {
	Slug    string `json:"slug"`
	Removed bool   `json:"removed"`
	Query   string `json:"query,omitempty"`
}

// GuestTokenResponse carries a freshly minted short-lived guest token.
type GuestTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// StatusResponse is the admin status payload.
type StatusResponse struct {
	Status       string `json:"status"`
	CacheEnabled bool   `json:"cache_enabled"`
	CacheBackend string `json:"cache_backend"`
	Version      string `json:"version,omitempty"`
}
