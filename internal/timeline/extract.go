// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package timeline

// Stream entries written by heterogeneous clients arrive in several shapes:
// keyed mappings, (field, value) pair sequences, or flattened field/value
// sequences, with fields and values as text, bytes, or singleton sequences.
// extractEventData normalizes the container first and decodes text second.

// extractEventData pulls the "data" field out of a stream entry.
func extractEventData(values any) (string, bool) {
	switch v := values.(type) {
	case map[string]any:
		for field, value := range v {
			if field == "data" {
				return normalizeText(value)
			}
		}
		return "", false
	case map[string]string:
		data, ok := v["data"]
		return data, ok
	case []any:
		return extractFromSequence(v)
	default:
		return "", false
	}
}

// extractFromSequence handles pair sequences [["data", v], ...], flattened
// sequences ["data", v, ...], and singleton sequences [v].
func extractFromSequence(seq []any) (string, bool) {
	// Pair sequences first: every element a two-element sequence.
	for _, item := range seq {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		field, ok := normalizeText(pair[0])
		if ok && field == "data" {
			return normalizeText(pair[1])
		}
	}

	// Flattened field/value sequence.
	for i := 0; i+1 < len(seq); i += 2 {
		field, ok := normalizeText(seq[i])
		if ok && field == "data" {
			return normalizeText(seq[i+1])
		}
	}

	// Singleton: the value itself.
	if len(seq) == 1 {
		return normalizeText(seq[0])
	}
	return "", false
}

// normalizeText coerces text, bytes, or a singleton sequence to a string.
func normalizeText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case []any:
		if len(v) == 1 {
			return normalizeText(v[0])
		}
		return "", false
	default:
		return "", false
	}
}
