// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package cache

import (
	"strings"
	"testing"
)

func TestCanonicalizeQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Smart Speaker", "smart speaker"},
		{"  smart   speaker  ", "smart speaker"},
		{"SMART\tSPEAKER\n", "smart speaker"},
		{"   \t \n ", ""},
		{"", ""},
		{"already canonical", "already canonical"},
	}

	for _, tt := range tests {
		if got := CanonicalizeQuery(tt.input); got != tt.want {
			t.Errorf("CanonicalizeQuery(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	a, err := Fingerprint("Smart Speaker", 3, 2, map[string]any{"guest": false, "subject": "user-1"})
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	b, err := Fingerprint("  smart   speaker ", 3, 2, map[string]any{"subject": "user-1", "guest": false})
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if a != b {
		t.Errorf("Equivalent requests produced different fingerprints:\n%s\n%s", a, b)
	}
	if QueryHash(a) != QueryHash(b) {
		t.Error("Equivalent fingerprints produced different hashes")
	}
}

func TestFingerprintIdentitySensitivity(t *testing.T) {
	a, _ := Fingerprint("smart speaker", 3, 2, map[string]any{"guest": false, "subject": "user-1"})
	b, _ := Fingerprint("smart speaker", 3, 2, map[string]any{"guest": false, "subject": "user-2"})
	if QueryHash(a) == QueryHash(b) {
		t.Error("Different subjects hashed to the same key")
	}

	c, _ := Fingerprint("smart speaker", 5, 2, map[string]any{"guest": false, "subject": "user-1"})
	if QueryHash(a) == QueryHash(c) {
		t.Error("Different products_k hashed to the same key")
	}
}

func TestFingerprintShape(t *testing.T) {
	fp, err := Fingerprint("Smart Speaker", 3, 2, map[string]any{"guest": true})
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	// Compact key-sorted JSON with the canonical query inside.
	if strings.Contains(fp, " ") && !strings.Contains(fp, "smart speaker") {
		t.Errorf("Fingerprint not compact: %s", fp)
	}
	for _, want := range []string{`"guest":true`, `"productsK":3`, `"reviewsPerProduct":2`, `"query":"smart speaker"`} {
		if !strings.Contains(fp, want) {
			t.Errorf("Fingerprint missing %s: %s", want, fp)
		}
	}
	if hash := QueryHash(fp); len(hash) != 64 {
		t.Errorf("QueryHash length = %d, want 64", len(hash))
	}
}

func TestKeyBuilders(t *testing.T) {
	hash := QueryHash("fp")
	if got := ResponseKey(2, hash); got != "cache:response:v2:"+hash {
		t.Errorf("ResponseKey = %q", got)
	}
	if got := PrecomputedSlugKey("smart-speaker"); got != "guest:precomputed:smart-speaker" {
		t.Errorf("PrecomputedSlugKey = %q", got)
	}
	if got := CanonicalSlugKey("smart-speaker"); got != "guest:canonical:smart-speaker" {
		t.Errorf("CanonicalSlugKey = %q", got)
	}

	qk := PrecomputedQueryKey("smart speaker")
	if !strings.HasPrefix(qk, "guest:precomputed:query:") || len(qk) != len("guest:precomputed:query:")+64 {
		t.Errorf("PrecomputedQueryKey shape wrong: %q", qk)
	}
	ck := CanonicalQueryKey("smart speaker")
	if !strings.HasPrefix(ck, "guest:canonical:query:") {
		t.Errorf("CanonicalQueryKey shape wrong: %q", ck)
	}
	if strings.TrimPrefix(qk, "guest:precomputed:query:") != strings.TrimPrefix(ck, "guest:canonical:query:") {
		t.Error("Query hash differs between tiers for the same canonical query")
	}
}
