// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter is the networked structured-store backend. Beyond plain
// get/set it exposes the underlying client so the timeline bus can use
// streams (XADD/XREAD) on the same connection pool.
type RedisAdapter struct {
	client *redis.Client
}

// NewRedisAdapter connects to the given redis:// URL and verifies the
// connection with a ping.
func NewRedisAdapter(ctx context.Context, url string) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisAdapter{client: client}, nil
}

// NewRedisAdapterFromClient wraps an existing client. Used by tests.
func NewRedisAdapterFromClient(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// Client returns the underlying client for stream operations.
func (r *RedisAdapter) Client() *redis.Client { return r.client }

func (r *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(r.Name(), "get", key, err)
	}
	return value, nil
}

func (r *RedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := r.client.Set(ctx, key, value, clampTTL(ttl)).Err()
	return newError(r.Name(), "set", key, err)
}

func (r *RedisAdapter) SetPersistent(ctx context.Context, key string, value []byte) error {
	err := r.client.Set(ctx, key, value, 0).Err()
	return newError(r.Name(), "set_persistent", key, err)
}

func (r *RedisAdapter) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	return newError(r.Name(), "delete", key, err)
}

func (r *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, newError(r.Name(), "exists", key, err)
	}
	return n > 0, nil
}

func (r *RedisAdapter) Name() string { return "redis" }

func (r *RedisAdapter) Close() error { return r.client.Close() }
