// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/retriever/config.yaml",
	"/etc/retriever/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values become slices for known slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped variables are skipped so that random environment variables do not
// pollute the configuration.
//
// Examples:
//   - ENABLE_CACHE -> cache.enabled
//   - CACHE_TTL_DEFAULT -> cache.ttl_default
//   - APP_JWT_SECRET -> auth.jwt_secret
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"cors_origins": "server.cors_origins",

		// Auth mappings
		"app_jwt_secret":                 "auth.jwt_secret",
		"app_jwt_issuer":                 "auth.issuer",
		"app_jwt_audience":               "auth.audience",
		"guest_access_token_ttl_seconds": "auth.guest_token_ttl_seconds",

		// Cache mappings
		"enable_cache":            "cache.enabled",
		"cache_ttl_default":       "cache.ttl_default",
		"guest_cache_ttl":         "cache.guest_ttl",
		"cache_fail_open":         "cache.fail_open",
		"cache_schema_version":    "cache.schema_version",
		"cache_max_payload_bytes": "cache.max_payload_bytes",
		"cache_namespace":         "cache.namespace",
		"cache_redis_url":         "cache.redis_url",
		"cache_kv_rest_url":       "cache.kv_rest_url",
		"cache_kv_rest_token":     "cache.kv_rest_token",
		"cache_badger_path":       "cache.badger_path",

		// Timeline mappings
		"timeline_stream_maxlen": "timeline.stream_maxlen",
		"timeline_stream_ttl":    "timeline.stream_ttl",

		// Search admission mappings
		"enable_guest_hashed_queries": "search.guest_hashed_queries",

		// Engine mappings
		"engine_retrieval_url": "engine.retrieval_url",
		"engine_analysis_url":  "engine.analysis_url",
		"engine_timeout":       "engine.timeout",
		"rag_batching_enabled": "engine.batching_enabled",
		"rag_batch_size":       "engine.batch_size",

		// Rate limit mappings
		"disable_rate_limit":       "rate_limit.disabled",
		"rate_limit_window":        "rate_limit.window",
		"guest_search_rate_limit":  "rate_limit.guest",
		"user_search_rate_limit":   "rate_limit.user",
		"admin_search_rate_limit":  "rate_limit.admin",
		"guest_session_rate_limit": "rate_limit.guest_session",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
