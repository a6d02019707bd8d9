// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package config loads and validates application configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//  1. Environment variables (see the mapping table in koanf.go)
//  2. Optional YAML config file (config.yaml or CONFIG_PATH)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Retriever server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Cache     CacheConfig     `koanf:"cache"`
	Timeline  TimelineConfig  `koanf:"timeline"`
	Search    SearchConfig    `koanf:"search"`
	Engine    EngineConfig    `koanf:"engine"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed browser origins for the API.
	CORSOrigins []string `koanf:"cors_origins"`
}

// AuthConfig holds JWT verification and guest session settings.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 application tokens. Required.
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`

	// GuestTokenTTLSeconds bounds the lifetime of tokens minted by
	// POST /auth/guest, in seconds. Integer seconds so the env var takes a
	// bare number, like the cache TTLs.
	GuestTokenTTLSeconds int `koanf:"guest_token_ttl_seconds"`
}

// CacheConfig selects and tunes the cache backend shared by the response
// cache, the precomputed/canonical tiers, and the timeline stream store.
type CacheConfig struct {
	// Enabled turns on all cache tiers. When false the orchestrator runs
	// without memoization and admin cache endpoints return 503.
	Enabled bool `koanf:"enabled"`

	// TTLDefault is the per-request response cache TTL in seconds.
	TTLDefault int `koanf:"ttl_default"`

	// GuestTTL applies to precomputed entries and guest submissions, in seconds.
	GuestTTL int `koanf:"guest_ttl"`

	// FailOpen swallows cache errors and proceeds on miss. When false,
	// adapter errors propagate to the caller.
	FailOpen bool `koanf:"fail_open"`

	// SchemaVersion participates in the per-request key namespace so that
	// payload shape changes invalidate old entries.
	SchemaVersion int `koanf:"schema_version"`

	// MaxPayloadBytes guards stores: serialized payloads above this size
	// are not written.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// Namespace is an optional key prefix applied by the REST KV adapter.
	Namespace string `koanf:"namespace"`

	// RedisURL selects the Redis adapter (and the stream-backed timeline)
	// when set, e.g. redis://localhost:6379/0.
	RedisURL string `koanf:"redis_url"`

	// KVRestURL and KVRestToken select the remote REST key-value adapter
	// when both are set. REST takes precedence over Redis.
	KVRestURL   string `koanf:"kv_rest_url"`
	KVRestToken string `koanf:"kv_rest_token"`

	// BadgerPath selects the embedded persistent adapter when set and no
	// networked backend is configured.
	BadgerPath string `koanf:"badger_path"`
}

// TimelineConfig tunes the per-query event stream.
type TimelineConfig struct {
	// StreamMaxLen caps each timeline stream (approximate trimming).
	StreamMaxLen int64 `koanf:"stream_maxlen"`

	// StreamTTL expires idle timeline streams on the Redis backend.
	StreamTTL time.Duration `koanf:"stream_ttl"`
}

// SearchConfig holds search admission policy.
type SearchConfig struct {
	// GuestHashedQueries allows guest-role principals to submit searches.
	// When false, guest submissions are rejected with 403.
	GuestHashedQueries bool `koanf:"guest_hashed_queries"`
}

// EngineConfig points at the external retrieval and analysis collaborators.
type EngineConfig struct {
	// RetrievalURL is the hybrid retrieval service endpoint.
	RetrievalURL string `koanf:"retrieval_url"`

	// AnalysisURL is the LLM analysis pipeline endpoint.
	AnalysisURL string `koanf:"analysis_url"`

	// Timeout bounds each upstream HTTP call.
	Timeout time.Duration `koanf:"timeout"`

	// BatchingEnabled chunks products into batches for analysis calls.
	BatchingEnabled bool `koanf:"batching_enabled"`

	// BatchSize is the analysis chunk size when batching is enabled.
	BatchSize int `koanf:"batch_size"`
}

// RateLimitConfig holds per-tier request budgets (requests per window).
type RateLimitConfig struct {
	Disabled bool          `koanf:"disabled"`
	Window   time.Duration `koanf:"window"`
	Guest    int           `koanf:"guest"`
	User     int           `koanf:"user"`
	Admin    int           `koanf:"admin"`

	// GuestSession bounds POST /auth/guest token minting.
	GuestSession int `koanf:"guest_session"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Auth: AuthConfig{
			JWTSecret:            "",
			Issuer:               "retriever",
			Audience:             "retriever",
			GuestTokenTTLSeconds: 600,
		},
		Cache: CacheConfig{
			Enabled:         false,
			TTLDefault:      60 * 60,
			GuestTTL:        60 * 60 * 24,
			FailOpen:        true,
			SchemaVersion:   1,
			MaxPayloadBytes: 1 << 20,
			Namespace:       "",
			RedisURL:        "",
			KVRestURL:       "",
			KVRestToken:     "",
			BadgerPath:      "",
		},
		Timeline: TimelineConfig{
			StreamMaxLen: 1000,
			StreamTTL:    time.Hour,
		},
		Search: SearchConfig{
			GuestHashedQueries: false,
		},
		Engine: EngineConfig{
			RetrievalURL:    "",
			AnalysisURL:     "",
			Timeout:         30 * time.Second,
			BatchingEnabled: true,
			BatchSize:       3,
		},
		RateLimit: RateLimitConfig{
			Disabled:     false,
			Window:       time.Minute,
			Guest:        20,
			User:         60,
			Admin:        120,
			GuestSession: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("APP_JWT_SECRET is required but was empty")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("APP_JWT_SECRET must be at least 32 characters, got %d", len(c.Auth.JWTSecret))
	}
	if c.Cache.TTLDefault < 1 {
		c.Cache.TTLDefault = 1
	}
	if c.Cache.GuestTTL < 1 {
		c.Cache.GuestTTL = 1
	}
	if c.Auth.GuestTokenTTLSeconds < 1 {
		c.Auth.GuestTokenTTLSeconds = 1
	}
	if c.Cache.SchemaVersion < 1 {
		c.Cache.SchemaVersion = 1
	}
	if c.Cache.MaxPayloadBytes < 1 {
		c.Cache.MaxPayloadBytes = 1
	}
	if c.Timeline.StreamMaxLen < 1 {
		c.Timeline.StreamMaxLen = 1000
	}
	if c.Timeline.StreamTTL <= 0 {
		c.Timeline.StreamTTL = time.Hour
	}
	if c.Engine.BatchSize < 1 {
		c.Engine.BatchSize = 1
	}
	if c.Cache.KVRestURL != "" && c.Cache.KVRestToken == "" {
		return fmt.Errorf("CACHE_KV_REST_TOKEN is required when CACHE_KV_REST_URL is set")
	}
	return nil
}
