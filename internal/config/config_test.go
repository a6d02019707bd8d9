// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-0123456789abcdefghijklmnop"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.Enabled {
		t.Error("Expected cache disabled by default")
	}
	if cfg.Cache.TTLDefault != 3600 {
		t.Errorf("Expected default cache TTL 3600, got %d", cfg.Cache.TTLDefault)
	}
	if cfg.Cache.GuestTTL != 86400 {
		t.Errorf("Expected default guest TTL 86400, got %d", cfg.Cache.GuestTTL)
	}
	if !cfg.Cache.FailOpen {
		t.Error("Expected fail-open by default")
	}
	if cfg.Timeline.StreamMaxLen != 1000 {
		t.Errorf("Expected stream maxlen 1000, got %d", cfg.Timeline.StreamMaxLen)
	}
	if cfg.Timeline.StreamTTL != time.Hour {
		t.Errorf("Expected stream TTL 1h, got %v", cfg.Timeline.StreamTTL)
	}
	if cfg.Search.GuestHashedQueries {
		t.Error("Expected guest hashed queries disabled by default")
	}
	if cfg.Auth.GuestTokenTTLSeconds != 600 {
		t.Errorf("Expected guest token TTL 600s, got %d", cfg.Auth.GuestTokenTTLSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", testSecret)
	t.Setenv("ENABLE_CACHE", "true")
	t.Setenv("CACHE_TTL_DEFAULT", "120")
	t.Setenv("GUEST_CACHE_TTL", "240")
	t.Setenv("ENABLE_GUEST_HASHED_QUERIES", "true")
	t.Setenv("CACHE_FAIL_OPEN", "false")
	t.Setenv("CACHE_SCHEMA_VERSION", "7")
	t.Setenv("CACHE_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("CACHE_NAMESPACE", "staging")
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	// Bare integer seconds, matching the variable's _SECONDS suffix.
	t.Setenv("GUEST_ACCESS_TOKEN_TTL_SECONDS", "1200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !cfg.Cache.Enabled {
		t.Error("ENABLE_CACHE=true not applied")
	}
	if cfg.Cache.TTLDefault != 120 {
		t.Errorf("CACHE_TTL_DEFAULT not applied, got %d", cfg.Cache.TTLDefault)
	}
	if cfg.Cache.GuestTTL != 240 {
		t.Errorf("GUEST_CACHE_TTL not applied, got %d", cfg.Cache.GuestTTL)
	}
	if !cfg.Search.GuestHashedQueries {
		t.Error("ENABLE_GUEST_HASHED_QUERIES=true not applied")
	}
	if cfg.Cache.FailOpen {
		t.Error("CACHE_FAIL_OPEN=false not applied")
	}
	if cfg.Cache.SchemaVersion != 7 {
		t.Errorf("CACHE_SCHEMA_VERSION not applied, got %d", cfg.Cache.SchemaVersion)
	}
	if cfg.Cache.MaxPayloadBytes != 2048 {
		t.Errorf("CACHE_MAX_PAYLOAD_BYTES not applied, got %d", cfg.Cache.MaxPayloadBytes)
	}
	if cfg.Cache.Namespace != "staging" {
		t.Errorf("CACHE_NAMESPACE not applied, got %q", cfg.Cache.Namespace)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("HTTP_PORT not applied, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("CORS_ORIGINS not split into slice, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Auth.GuestTokenTTLSeconds != 1200 {
		t.Errorf("GUEST_ACCESS_TOKEN_TTL_SECONDS not applied, got %d", cfg.Auth.GuestTokenTTLSeconds)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for missing JWT secret")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "out of range",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "kv rest url without token",
			mutate:  func(c *Config) { c.Cache.KVRestURL = "https://kv.example.com" },
			wantErr: "CACHE_KV_REST_TOKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCoercesMinimums(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Cache.TTLDefault = 0
	cfg.Cache.SchemaVersion = -3
	cfg.Timeline.StreamMaxLen = 0
	cfg.Engine.BatchSize = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cfg.Cache.TTLDefault != 1 {
		t.Errorf("TTLDefault not coerced, got %d", cfg.Cache.TTLDefault)
	}
	if cfg.Cache.SchemaVersion != 1 {
		t.Errorf("SchemaVersion not coerced, got %d", cfg.Cache.SchemaVersion)
	}
	if cfg.Timeline.StreamMaxLen != 1000 {
		t.Errorf("StreamMaxLen not coerced, got %d", cfg.Timeline.StreamMaxLen)
	}
	if cfg.Engine.BatchSize != 1 {
		t.Errorf("BatchSize not coerced, got %d", cfg.Engine.BatchSize)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"ENABLE_CACHE", "cache.enabled"},
		{"CACHE_TTL_DEFAULT", "cache.ttl_default"},
		{"GUEST_CACHE_TTL", "cache.guest_ttl"},
		{"ENABLE_GUEST_HASHED_QUERIES", "search.guest_hashed_queries"},
		{"APP_JWT_SECRET", "auth.jwt_secret"},
		{"GUEST_ACCESS_TOKEN_TTL_SECONDS", "auth.guest_token_ttl_seconds"},
		{"CACHE_KV_REST_URL", "cache.kv_rest_url"},
		{"TIMELINE_STREAM_MAXLEN", "timeline.stream_maxlen"},
		{"LOG_LEVEL", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}
