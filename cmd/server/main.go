// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Command server runs the Retriever HTTP API: fingerprinted search
// admission, background orchestration, the SSE timeline, and the admin
// cache surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-ai/retriever/internal/api"
	"github.com/tessera-ai/retriever/internal/auth"
	"github.com/tessera-ai/retriever/internal/cache"
	"github.com/tessera-ai/retriever/internal/config"
	"github.com/tessera-ai/retriever/internal/engine"
	"github.com/tessera-ai/retriever/internal/jobs"
	"github.com/tessera-ai/retriever/internal/logging"
	"github.com/tessera-ai/retriever/internal/metrics"
	"github.com/tessera-ai/retriever/internal/scrub"
	"github.com/tessera-ai/retriever/internal/search"
	"github.com/tessera-ai/retriever/internal/timeline"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, redisClient, err := newCacheAdapter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cache adapter: %w", err)
	}
	defer func() {
		if cerr := adapter.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Cache adapter close failed")
		}
	}()
	logging.Info().
		Str("backend", adapter.Name()).
		Bool("cache_enabled", cfg.Cache.Enabled).
		Msg("Cache adapter ready")

	scrubSettings := scrub.DefaultTimelineSettings()
	bus := timeline.NewBus(redisClient, timeline.Options{
		MaxLen:    cfg.Timeline.StreamMaxLen,
		StreamTTL: cfg.Timeline.StreamTTL,
		Scrub:     &scrubSettings,
	})

	m := metrics.New()
	store := search.NewStore(adapter, search.StoreConfig{
		Enabled:         cfg.Cache.Enabled,
		FailOpen:        cfg.Cache.FailOpen,
		SchemaVersion:   cfg.Cache.SchemaVersion,
		MaxPayloadBytes: cfg.Cache.MaxPayloadBytes,
		DefaultTTL:      time.Duration(cfg.Cache.TTLDefault) * time.Second,
		GuestTTL:        time.Duration(cfg.Cache.GuestTTL) * time.Second,
	}, m)

	retrieval := engine.NewRetrievalClient(cfg.Engine.RetrievalURL, cfg.Engine.Timeout)
	analysis := engine.NewAnalysisClient(cfg.Engine.AnalysisURL, cfg.Engine.Timeout, cfg.Engine.BatchingEnabled, cfg.Engine.BatchSize)
	service := search.NewService(store, bus, retrieval, analysis, m, search.Config{
		BatchingEnabled: cfg.Engine.BatchingEnabled,
		BatchSize:       cfg.Engine.BatchSize,
	})

	manager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, time.Duration(cfg.Auth.GuestTokenTTLSeconds)*time.Second)
	server := api.NewServer(cfg, jobs.NewRegistry(), bus, service, manager, m)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the SSE timeline holds connections open.
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server listening")
		if serr := httpServer.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case serr := <-errCh:
		return fmt.Errorf("http server: %w", serr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		return fmt.Errorf("shutdown: %w", serr)
	}
	logging.Info().Msg("Server stopped")
	return nil
}

// newCacheAdapter picks the backend in order of preference: the remote REST
// key-value store, then Redis, then the embedded Badger store, then memory.
// The Redis client is returned separately so the timeline bus can share it;
// every other backend leaves the timeline on its in-memory buffers.
func newCacheAdapter(ctx context.Context, cfg *config.Config) (cache.Adapter, *redis.Client, error) {
	if cfg.Cache.KVRestURL != "" {
		return cache.NewRESTKVAdapter(cfg.Cache.KVRestURL, cfg.Cache.KVRestToken, cfg.Cache.Namespace), nil, nil
	}
	if cfg.Cache.RedisURL != "" {
		adapter, err := cache.NewRedisAdapter(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.Client(), nil
	}
	if cfg.Cache.BadgerPath != "" {
		adapter, err := cache.NewBadgerAdapter(cfg.Cache.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil
	}
	logging.Warn().Msg("No cache backend configured, falling back to process memory")
	return cache.NewMemoryAdapter(), nil, nil
}
