// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package scrub applies field-level redaction and truncation to payloads
// before they leave the process on the timeline stream.
package scrub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Settings configures one scrubbing profile. The three field-name sets are
// disjoint and matched case-insensitively.
type Settings struct {
	// Redact fields are replaced with a hash marker or the literal mask.
	Redact map[string]struct{}

	// Truncate fields keep a clipped prefix of string values when debug
	// truncation is enabled; otherwise they are redacted.
	Truncate map[string]struct{}

	// Passthrough fields are recursed into unchanged.
	Passthrough map[string]struct{}

	MaxTruncateLength int
	Mask              string

	// HashMask replaces redacted values with "[hash:<sha256 prefix>]" so
	// equal values remain correlatable without being readable.
	HashMask bool

	DebugTruncationEnabled bool
}

// FieldSet builds a lowercase set from field names.
func FieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// DefaultTimelineSettings is the profile applied to every timeline publish:
// identity and token fields are hashed away, LLM text fields are clipped,
// and search identifiers pass through.
func DefaultTimelineSettings() Settings {
	return Settings{
		Redact:            FieldSet("email", "user_id", "access_token", "refresh_token"),
		Truncate:          FieldSet("prompt", "response_fragment", "llm_input", "llm_output"),
		Passthrough:       FieldSet("query", "asin", "product_id", "score", "step"),
		MaxTruncateLength: 512,
		Mask:              "[redacted]",
		HashMask:          true,
	}
}

// Scrub returns a scrubbed copy of payload. The input is never mutated.
func Scrub(payload map[string]any, s Settings) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		lower := strings.ToLower(key)
		switch {
		case contains(s.Passthrough, lower):
			out[key] = scrubValue(value, s)
		case contains(s.Redact, lower):
			out[key] = s.redacted(value)
		case contains(s.Truncate, lower):
			out[key] = s.truncated(value)
		default:
			out[key] = scrubValue(value, s)
		}
	}
	return out
}

// scrubValue recurses into containers; scalars pass through.
func scrubValue(value any, s Settings) any {
	switch v := value.(type) {
	case map[string]any:
		return Scrub(v, s)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = scrubValue(item, s)
		}
		return out
	case []byte:
		return clipRunes(strings.ToValidUTF8(string(v), "�"), s.MaxTruncateLength)
	default:
		return value
	}
}

func (s Settings) redacted(value any) string {
	if s.HashMask {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%v", value)))
		return "[hash:" + hex.EncodeToString(sum[:])[:16] + "]"
	}
	return s.Mask
}

func (s Settings) truncated(value any) any {
	text, isString := value.(string)
	if !s.DebugTruncationEnabled || !isString {
		return s.redacted(value)
	}
	if len([]rune(text)) <= s.MaxTruncateLength {
		return text
	}
	return clipRunes(text, s.MaxTruncateLength) + "…"
}

func clipRunes(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
