// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package timeline

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryBusSequences(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil, Options{})

	var lastID string
	for i := 0; i < 3; i++ {
		event, err := bus.Publish(ctx, "hash-a", "step.test", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if event.Sequence != int64(i+1) {
			t.Errorf("Sequence = %d, want %d", event.Sequence, i+1)
		}
		if lastID != "" && CompareStreamIDs(event.StreamID, lastID) <= 0 {
			t.Errorf("Stream id %q not after %q", event.StreamID, lastID)
		}
		lastID = event.StreamID
	}

	events, err := bus.Read(ctx, "hash-a", "", 100, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Read returned %d events, want 3", len(events))
	}
	for i, event := range events {
		if event.Sequence != int64(i+1) {
			t.Errorf("events[%d].Sequence = %d, want gap-free prefix from 1", i, event.Sequence)
		}
		if event.EventID == "" {
			t.Error("Missing event_id")
		}
	}

	// Hashes are isolated.
	other, _ := bus.Read(ctx, "hash-b", "", 100, 0)
	if len(other) != 0 {
		t.Errorf("Unrelated hash returned %d events", len(other))
	}
}

func TestMemoryBusResume(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil, Options{})

	var ids []string
	for i := 0; i < 3; i++ {
		event, _ := bus.Publish(ctx, "h", "step", map[string]any{"n": i})
		ids = append(ids, event.StreamID)
	}

	// Resume after the second event yields only the third.
	events, err := bus.Read(ctx, "h", ids[1], 100, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 1 || events[0].StreamID != ids[2] {
		t.Errorf("Resume read = %d events, want only the third", len(events))
	}

	// Reading after the final id is empty.
	events, _ = bus.Read(ctx, "h", ids[2], 100, 0)
	if len(events) != 0 {
		t.Errorf("Read after final id returned %d events, want 0", len(events))
	}
}

func TestMemoryBusMaxLen(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil, Options{MaxLen: 2})

	for i := 0; i < 5; i++ {
		if _, err := bus.Publish(ctx, "h", "step", map[string]any{"n": i}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	events, _ := bus.Read(ctx, "h", "", 100, 0)
	if len(events) != 2 {
		t.Fatalf("Buffer holds %d events, want 2", len(events))
	}
	if events[0].Sequence != 4 || events[1].Sequence != 5 {
		t.Errorf("Kept sequences %d,%d, want the newest two", events[0].Sequence, events[1].Sequence)
	}
}

func TestMemoryBusClear(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil, Options{})

	_, _ = bus.Publish(ctx, "h", "step", nil)
	bus.Clear(ctx, "h")

	events, _ := bus.Read(ctx, "h", "", 100, 0)
	if len(events) != 0 {
		t.Errorf("Read after Clear returned %d events", len(events))
	}

	// Sequences restart from 1 after a clear.
	event, _ := bus.Publish(ctx, "h", "step", nil)
	if event.Sequence != 1 {
		t.Errorf("Sequence after Clear = %d, want 1", event.Sequence)
	}
}

func TestScrubbingAppliedOnPublish(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil, Options{})

	event, err := bus.Publish(ctx, "h", "step", map[string]any{
		"query": "smart speaker",
		"email": "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if event.Payload["query"] != "smart speaker" {
		t.Errorf("Passthrough field altered: %v", event.Payload["query"])
	}
	if email, _ := event.Payload["email"].(string); strings.Contains(email, "alice") {
		t.Errorf("Redacted field leaked: %q", email)
	}
}

func newStreamBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBus(client, Options{}), srv
}

func TestStreamBusPublishRead(t *testing.T) {
	ctx := context.Background()
	bus, srv := newStreamBus(t)

	var ids []string
	for i := 0; i < 3; i++ {
		event, err := bus.Publish(ctx, "h", "step.stream", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if event.StreamID == "" || event.Sequence < 1 {
			t.Errorf("Stream fields not folded in: %+v", event)
		}
		ids = append(ids, event.StreamID)
	}

	if !srv.Exists("timeline:h") {
		t.Fatal("Stream key missing on backend")
	}
	if ttl := srv.TTL("timeline:h"); ttl <= 0 {
		t.Errorf("Stream TTL not set, got %v", ttl)
	}

	events, err := bus.Read(ctx, "h", "", 100, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Read returned %d events, want 3", len(events))
	}
	for i, event := range events {
		if event.StreamID != ids[i] {
			t.Errorf("events[%d].StreamID = %q, want %q", i, event.StreamID, ids[i])
		}
		if event.Step != "step.stream" {
			t.Errorf("events[%d].Step = %q", i, event.Step)
		}
	}

	// Resume semantics.
	tail, err := bus.Read(ctx, "h", ids[1], 100, 0)
	if err != nil {
		t.Fatalf("Resume read failed: %v", err)
	}
	if len(tail) != 1 || tail[0].StreamID != ids[2] {
		t.Errorf("Resume read wrong: %+v", tail)
	}

	// Read after the final id is empty, not an error.
	empty, err := bus.Read(ctx, "h", ids[2], 100, 0)
	if err != nil {
		t.Fatalf("Read after final id failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Read after final id returned %d events", len(empty))
	}
}

func TestStreamBusClear(t *testing.T) {
	ctx := context.Background()
	bus, srv := newStreamBus(t)

	_, _ = bus.Publish(ctx, "h", "step", nil)
	bus.Clear(ctx, "h")

	if srv.Exists("timeline:h") {
		t.Error("Stream key still present after Clear")
	}
	events, _ := bus.Read(ctx, "h", "", 100, 0)
	if len(events) != 0 {
		t.Errorf("Read after Clear returned %d events", len(events))
	}
}

func TestStreamBusFallbackOnFailure(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	bus := NewBus(client, Options{})

	// Kill the backend; publish and read must transparently fall back.
	srv.Close()

	event, err := bus.Publish(ctx, "h", "step", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("Publish did not fall back: %v", err)
	}
	if event.Sequence != 1 {
		t.Errorf("Fallback sequence = %d, want 1", event.Sequence)
	}

	events, err := bus.Read(ctx, "h", "", 100, 0)
	if err != nil {
		t.Fatalf("Read did not fall back: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Fallback read returned %d events, want 1", len(events))
	}
}
