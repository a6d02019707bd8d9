// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package timeline is the per-query event bus: an append-only, replayable
// log keyed by query hash, stored on Redis streams when a client is
// available and in process memory otherwise. Reads resume from a stream id,
// which is what gives SSE clients Last-Event-ID semantics.
package timeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is one timeline entry. Sequence is strictly increasing from 1 per
// query hash; StreamID orders events as "<millis>-<seq>".
type Event struct {
	EventID         string         `json:"event_id"`
	QueryHash       string         `json:"query_hash"`
	Step            string         `json:"step"`
	Timestamp       string         `json:"timestamp"`
	Sequence        int64          `json:"sequence,omitempty"`
	StreamID        string         `json:"stream_id,omitempty"`
	StreamTimestamp int64          `json:"stream_timestamp,omitempty"`
	Payload         map[string]any `json:"payload"`
}

// ParseStreamID splits "<millis>-<seq>" into its parts.
func ParseStreamID(id string) (millis, seq int64, err error) {
	left, right, found := strings.Cut(id, "-")
	if !found {
		return 0, 0, fmt.Errorf("malformed stream id %q", id)
	}
	millis, err = strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	seq, err = strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return millis, seq, nil
}

// CompareStreamIDs orders two stream ids by (millis, seq). Malformed ids
// compare as zero.
func CompareStreamIDs(a, b string) int {
	am, as, _ := ParseStreamID(a)
	bm, bs, _ := ParseStreamID(b)
	switch {
	case am != bm:
		if am < bm {
			return -1
		}
		return 1
	case as != bs:
		if as < bs {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// streamKey names the Redis stream for a query hash.
func streamKey(queryHash string) string {
	return "timeline:" + queryHash
}
