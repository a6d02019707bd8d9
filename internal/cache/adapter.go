// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package cache provides the key-value adapters behind every cache tier,
// plus query canonicalization, fingerprinting, tier key builders, and the
// gzip+JSON payload codec.
//
// Four adapters implement the same contract: in-memory, remote REST
// key-value, Redis, and embedded Badger. Backend selection happens at
// startup by available configuration; callers never branch on the backend.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Adapter is the uniform contract over all cache backends.
//
// Get returns (nil, nil) on a miss. Set with a non-positive TTL coerces it
// to one second. SetPersistent stores without expiry.
type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetPersistent(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases backend resources. Safe to call once at shutdown.
	Close() error
}

// Error wraps an adapter failure with the backend, operation, and key that
// produced it.
type Error struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s: %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error; nil stays nil so call sites can wrap
// unconditionally.
func newError(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Key: key, Err: err}
}

// minTTL is the floor applied to non-positive TTLs on Set.
const minTTL = time.Second

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return minTTL
	}
	return ttl
}
