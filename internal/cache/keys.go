// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Tier key prefixes. The precomputed tier is TTL-bounded and admin-curated;
// the canonical tier is its persistent counterpart and is consulted first.
const (
	responseKeyPrefix    = "cache:response:v"
	precomputedPrefix    = "guest:precomputed:"
	canonicalPrefix      = "guest:canonical:"
	PrecomputedIndexKey  = "guest:precomputed:index"
	CanonicalIndexKey    = "guest:canonical:index"
	precomputedQueryPart = "query:"
)

// CanonicalizeQuery lowercases, trims, and collapses every whitespace run to
// a single space. A whitespace-only query canonicalizes to the empty string.
func CanonicalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Fingerprint serializes the identity of a search request: canonical query,
// parameters, and extra identity fields, as key-sorted compact JSON. Two
// requests fingerprint identically iff they are the same search for the same
// principal.
func Fingerprint(query string, productsK, reviewsPerProduct int, extra map[string]any) (string, error) {
	fields := map[string]any{
		"query":             CanonicalizeQuery(query),
		"productsK":         productsK,
		"reviewsPerProduct": reviewsPerProduct,
	}
	for k, v := range extra {
		fields[k] = v
	}
	// Map keys marshal in sorted order, which makes the fingerprint stable
	// regardless of extra's insertion order.
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint: %w", err)
	}
	return string(raw), nil
}

// QueryHash derives the 64-hex correlation key from a fingerprint.
func QueryHash(fingerprint string) string {
	return sha256Hex(fingerprint)
}

// ResponseKey builds the per-request response cache key. The schema version
// participates in the namespace so payload shape changes invalidate old
// entries.
func ResponseKey(schemaVersion int, queryHash string) string {
	return fmt.Sprintf("%s%d:%s", responseKeyPrefix, schemaVersion, queryHash)
}

// PrecomputedSlugKey maps a slug to its precomputed payload.
func PrecomputedSlugKey(slug string) string {
	return precomputedPrefix + slug
}

// PrecomputedQueryKey maps a canonical query to its slug in the precomputed
// tier.
func PrecomputedQueryKey(canonicalQuery string) string {
	return precomputedPrefix + precomputedQueryPart + sha256Hex(canonicalQuery)
}

// CanonicalSlugKey maps a slug to its canonical-tier payload.
func CanonicalSlugKey(slug string) string {
	return canonicalPrefix + slug
}

// CanonicalQueryKey maps a canonical query to its slug in the canonical tier.
func CanonicalQueryKey(canonicalQuery string) string {
	return canonicalPrefix + precomputedQueryPart + sha256Hex(canonicalQuery)
}

// QueryTextHash exposes the canonical-query hash used in index entries.
func QueryTextHash(canonicalQuery string) string {
	return sha256Hex(canonicalQuery)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
