// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryAdapter is the process-local fallback backend. A single mutex guards
// the map; expired entries are reaped lazily on Get and Exists.
type MemoryAdapter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload []byte
	// expiresAt is zero for persistent entries.
	expiresAt time.Time
}

// NewMemoryAdapter returns an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{entries: make(map[string]memoryEntry)}
}

func (m *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.expired(entry) {
		delete(m.entries, key)
		return nil, nil
	}
	out := make([]byte, len(entry.payload))
	copy(out, entry.payload)
	return out, nil
}

func (m *MemoryAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	payload := make([]byte, len(value))
	copy(payload, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{payload: payload, expiresAt: time.Now().Add(clampTTL(ttl))}
	return nil
}

func (m *MemoryAdapter) SetPersistent(_ context.Context, key string, value []byte) error {
	payload := make([]byte, len(value))
	copy(payload, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{payload: payload}
	return nil
}

func (m *MemoryAdapter) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.expired(entry) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *MemoryAdapter) Name() string { return "memory" }

func (m *MemoryAdapter) Close() error { return nil }

func (m *MemoryAdapter) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)
}
