// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	json "github.com/goccy/go-json"

	"github.com/tessera-ai/retriever/internal/logging"
	"github.com/tessera-ai/retriever/internal/scrub"
)

// DefaultStreamMaxLen caps each stream (approximate trimming on Redis).
const DefaultStreamMaxLen = 1000

// DefaultStreamTTL expires idle streams on the Redis backend.
const DefaultStreamTTL = time.Hour

// Options tunes a Bus. Zero values fall back to the defaults above and the
// default timeline scrubbing profile.
type Options struct {
	MaxLen    int64
	StreamTTL time.Duration
	Scrub     *scrub.Settings
}

// PublishOptions overrides per-call publish behavior.
type PublishOptions struct {
	// Scrub replaces the bus-wide scrubbing profile for this event.
	Scrub *scrub.Settings

	// MaxLen overrides the stream cap for this append.
	MaxLen int64

	// EventID overrides the generated UUID. Used by replays and tests.
	EventID string
}

// Bus is the per-query event log. With a Redis client it appends to the
// stream "timeline:<hash>"; without one, or when a stream operation fails,
// it falls back to an in-process buffer. The fallback is transparent to
// callers; consumers must tolerate the duplicate delivery it can cause.
type Bus struct {
	client    *redis.Client
	maxLen    int64
	streamTTL time.Duration
	settings  scrub.Settings

	mu      sync.Mutex
	buffers map[string][]Event
	nextSeq map[string]int64
}

// NewBus builds a bus. client may be nil for memory-only operation.
func NewBus(client *redis.Client, opts Options) *Bus {
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultStreamMaxLen
	}
	if opts.StreamTTL <= 0 {
		opts.StreamTTL = DefaultStreamTTL
	}
	settings := scrub.DefaultTimelineSettings()
	if opts.Scrub != nil {
		settings = *opts.Scrub
	}
	return &Bus{
		client:    client,
		maxLen:    opts.MaxLen,
		streamTTL: opts.StreamTTL,
		settings:  settings,
		buffers:   make(map[string][]Event),
		nextSeq:   make(map[string]int64),
	}
}

// Backend names the active backend for logs and status reporting.
func (b *Bus) Backend() string {
	if b.client != nil {
		return "redis-stream"
	}
	return "memory"
}

// Publish scrubs the payload, appends the event, and returns it with its
// assigned stream id and sequence.
func (b *Bus) Publish(ctx context.Context, queryHash, step string, payload map[string]any) (Event, error) {
	return b.PublishWith(ctx, queryHash, step, payload, PublishOptions{})
}

// PublishWith is Publish with per-call overrides.
func (b *Bus) PublishWith(ctx context.Context, queryHash, step string, payload map[string]any, opts PublishOptions) (Event, error) {
	settings := b.settings
	if opts.Scrub != nil {
		settings = *opts.Scrub
	}
	if payload == nil {
		payload = map[string]any{}
	}

	eventID := opts.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	event := Event{
		EventID:   eventID,
		QueryHash: queryHash,
		Step:      step,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   scrub.Scrub(payload, settings),
	}

	maxLen := b.maxLen
	if opts.MaxLen > 0 {
		maxLen = opts.MaxLen
	}

	if b.client != nil {
		published, err := b.publishStream(ctx, event, maxLen)
		if err == nil {
			return published, nil
		}
		logging.Warn().
			Err(err).
			Str("query_hash", queryHash).
			Str("step", step).
			Msg("Stream publish failed, falling back to memory")
	}

	return b.appendMemory(event, maxLen), nil
}

func (b *Bus) publishStream(ctx context.Context, event Event, maxLen int64) (Event, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}

	key := streamKey(event.QueryHash)
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Result()
	if err != nil {
		return Event{}, fmt.Errorf("xadd: %w", err)
	}

	// Keep the stream alive while the query is active.
	if err := b.client.Expire(ctx, key, b.streamTTL).Err(); err != nil {
		logging.Debug().Err(err).Str("stream", key).Msg("Stream TTL refresh failed")
	}

	event.StreamID = id
	if millis, seq, err := ParseStreamID(id); err == nil {
		event.StreamTimestamp = millis
		event.Sequence = seq
	}
	return event, nil
}

func (b *Bus) appendMemory(event Event, maxLen int64) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.nextSeq[event.QueryHash] + 1
	b.nextSeq[event.QueryHash] = seq

	millis := time.Now().UnixMilli()
	event.Sequence = seq
	event.StreamTimestamp = millis
	event.StreamID = fmt.Sprintf("%d-%d", millis, seq)

	buffer := append(b.buffers[event.QueryHash], event)
	if int64(len(buffer)) > maxLen {
		buffer = buffer[int64(len(buffer))-maxLen:]
	}
	b.buffers[event.QueryHash] = buffer
	return event
}

// Read returns up to count events with stream ids strictly after lastID
// (empty or "0-0" reads from the start). On the stream backend, block
// bounds how long the call may wait for new entries; the memory backend
// never blocks.
func (b *Bus) Read(ctx context.Context, queryHash, lastID string, count int64, block time.Duration) ([]Event, error) {
	if lastID == "" {
		lastID = "0-0"
	}
	if count <= 0 {
		count = 100
	}

	if b.client != nil {
		events, err := b.readStream(ctx, queryHash, lastID, count, block)
		if err == nil {
			return events, nil
		}
		logging.Warn().
			Err(err).
			Str("query_hash", queryHash).
			Msg("Stream read failed, falling back to memory")
	}

	return b.readMemory(queryHash, lastID, count), nil
}

func (b *Bus) readStream(ctx context.Context, queryHash, lastID string, count int64, block time.Duration) ([]Event, error) {
	blockArg := block
	if blockArg <= 0 {
		// Negative means no BLOCK argument; zero would block forever.
		blockArg = -1
	}

	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey(queryHash), lastID},
		Count:   count,
		Block:   blockArg,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread: %w", err)
	}

	events := make([]Event, 0, count)
	for _, stream := range res {
		for _, msg := range stream.Messages {
			data, ok := extractEventData(msg.Values)
			if !ok {
				logging.Debug().Str("stream_id", msg.ID).Msg("Stream entry without data field skipped")
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				logging.Debug().Err(err).Str("stream_id", msg.ID).Msg("Undecodable stream entry skipped")
				continue
			}
			event.StreamID = msg.ID
			if millis, seq, err := ParseStreamID(msg.ID); err == nil {
				event.StreamTimestamp = millis
				event.Sequence = seq
			}
			events = append(events, event)
		}
	}
	return events, nil
}

func (b *Bus) readMemory(queryHash, lastID string, count int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := make([]Event, 0, count)
	for _, event := range b.buffers[queryHash] {
		if CompareStreamIDs(event.StreamID, lastID) <= 0 {
			continue
		}
		events = append(events, event)
		if int64(len(events)) >= count {
			break
		}
	}
	return events
}

// Clear removes the stream key (best-effort) and erases the memory buffer.
// Called before re-running a query so reconnecting clients do not replay a
// prior submission.
func (b *Bus) Clear(ctx context.Context, queryHash string) {
	if b.client != nil {
		if err := b.client.Del(ctx, streamKey(queryHash)).Err(); err != nil {
			logging.Debug().Err(err).Str("query_hash", queryHash).Msg("Stream delete failed")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, queryHash)
	delete(b.nextSeq, queryHash)
}
