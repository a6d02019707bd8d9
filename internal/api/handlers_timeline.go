// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	json "github.com/goccy/go-json"

	"github.com/tessera-ai/retriever/internal/logging"
)

// handleTimeline streams the per-query event log as server-sent events.
// Last-Event-ID resumes after the given stream id; idle connections get a
// comment heartbeat so proxies keep the stream open. The producer stops as
// soon as the client disconnects; the background search task is unaffected.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	queryHash := chi.URLParam(r, "hash")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastID := r.Header.Get("Last-Event-ID")
	lastActivity := time.Now()

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			events, err := s.bus.Read(ctx, queryHash, lastID, 100, 0)
			if err != nil {
				logging.Warn().Err(err).Str("query_hash", queryHash).Msg("Timeline read failed during stream")
				continue
			}
			if len(events) > 0 {
				for _, event := range events {
					data, err := json.Marshal(event)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.StreamID, event.Step, data)
					lastID = event.StreamID
				}
				flusher.Flush()
				lastActivity = time.Now()
				continue
			}
			if time.Since(lastActivity) >= s.heartbeatInterval {
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
				lastActivity = time.Now()
			}
		}
	}
}
