// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tessera-ai/retriever/internal/models"
)

// requireCache guards the admin cache surface: 503 when the cache is off.
func (s *Server) requireCache(w http.ResponseWriter) bool {
	if !s.service.Store().Enabled() {
		respondError(w, http.StatusServiceUnavailable, "cache is disabled")
		return false
	}
	return true
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, _ *http.Request) {
	store := s.service.Store()
	respondJSON(w, http.StatusOK, models.StatusResponse{
		Status:       "ok",
		CacheEnabled: store.Enabled(),
		CacheBackend: store.Backend(),
	})
}

func (s *Server) handleListPrecomputed(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	items, err := s.service.Store().ListPrecomputed(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "index read failed")
		return
	}
	respondJSON(w, http.StatusOK, models.PrecomputedListResponse{Items: items})
}

// handleUpsertPrecomputed writes both tiers: the TTL-bounded precomputed
// entry and its persistent canonical counterpart.
func (s *Server) handleUpsertPrecomputed(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	var req models.PrecomputedUpsertRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ttl := time.Duration(s.cfg.Cache.GuestTTL) * time.Second
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	store := s.service.Store()
	if err := store.StorePrecomputed(r.Context(), req.Slug, req.Query, &req.Response, ttl); err != nil {
		respondError(w, http.StatusInternalServerError, "precomputed store failed")
		return
	}
	if err := store.StoreCanonical(r.Context(), req.Slug, req.Query, &req.Response); err != nil {
		respondError(w, http.StatusInternalServerError, "canonical store failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeletePrecomputed removes a slug from both tiers. Idempotent.
func (s *Server) handleDeletePrecomputed(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	slug := chi.URLParam(r, "slug")
	query := r.URL.Query().Get("query")

	canonical, err := s.service.Store().DeletePrecomputed(r.Context(), slug, query)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	respondJSON(w, http.StatusOK, models.PrecomputedDeleteResponse{
		Slug:    slug,
		Removed: true,
		Query:   canonical,
	})
}
