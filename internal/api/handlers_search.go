// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tessera-ai/retriever/internal/auth"
	"github.com/tessera-ai/retriever/internal/cache"
	"github.com/tessera-ai/retriever/internal/logging"
	"github.com/tessera-ai/retriever/internal/models"
	"github.com/tessera-ai/retriever/internal/search"
)

// backgroundSearchTimeout bounds one background pipeline run end to end.
const backgroundSearchTimeout = 5 * time.Minute

// handleSearchInit fingerprints a request without running it. Pure function
// of body plus identity.
func (s *Server) handleSearchInit(w http.ResponseWriter, r *http.Request) {
	var req models.SearchInitRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	productsK, reviewsPerProduct := req.ResultShape()
	fingerprint, err := cache.Fingerprint(req.Query, productsK, reviewsPerProduct, identity.FingerprintExtra())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "fingerprint failed")
		return
	}
	respondJSON(w, http.StatusOK, models.SearchInitResponse{
		QueryHash:         cache.QueryHash(fingerprint),
		CanonicalQuery:    cache.CanonicalizeQuery(req.Query),
		ProductsK:         productsK,
		ReviewsPerProduct: reviewsPerProduct,
	})
}

// handleSearchSubmit admits the request, resets job and timeline state, and
// schedules the background pipeline. The 202 body carries the URLs to poll.
func (s *Server) handleSearchSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if identity.Guest() && !s.cfg.Search.GuestHashedQueries {
		respondError(w, http.StatusForbidden, "guest search is disabled")
		return
	}

	extra := identity.FingerprintExtra()
	productsK, reviewsPerProduct := req.ResultShape()
	fingerprint, err := cache.Fingerprint(req.Query, productsK, reviewsPerProduct, extra)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "fingerprint failed")
		return
	}
	queryHash := cache.QueryHash(fingerprint)
	if req.QueryHash != "" && req.QueryHash != queryHash {
		respondError(w, http.StatusBadRequest, "query_hash does not match the canonical fingerprint")
		return
	}

	// Reset-wins: a resubmission of the same hash re-pends the job and
	// drops the previous timeline so reconnecting clients never replay a
	// stale run.
	s.registry.MarkPending(queryHash, req.Query, map[string]any{
		"guest":               identity.Guest(),
		"subject":             identity.Subject,
		"products_k":          productsK,
		"reviews_per_product": reviewsPerProduct,
	})
	s.bus.Clear(r.Context(), queryHash)

	go s.runSearch(search.Request{
		Query:             req.Query,
		ProductsK:         productsK,
		ReviewsPerProduct: reviewsPerProduct,
		QueryHash:         queryHash,
		Extra:             extra,
		Guest:             identity.Guest(),
		BypassCache:       req.BypassCache,
	})

	respondJSON(w, http.StatusAccepted, models.SearchAcceptedResponse{
		QueryHash:   queryHash,
		ResultURL:   "/search/result/" + queryHash,
		TimelineURL: "/timeline/" + queryHash,
		Status:      models.StatusPending,
	})
}

// runSearch is the background task. Failures are recovered into the job
// registry; they never reach the dispatcher.
func (s *Server) runSearch(req search.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundSearchTimeout)
	defer cancel()

	hook := func(_ context.Context, result *models.SearchResponse) error {
		s.registry.MarkCompleted(req.QueryHash, result)
		return nil
	}

	if _, err := s.service.SearchProducts(ctx, req, hook); err != nil {
		s.registry.MarkFailed(req.QueryHash, err.Error())
		s.metrics.RecordSearchJob(models.StatusFailed)
		logging.Error().
			Err(err).
			Str("query_hash", req.QueryHash).
			Msg("Background search failed")
		return
	}
	s.metrics.RecordSearchJob(models.StatusCompleted)
}

// handleSearchResult is the polling endpoint.
func (s *Server) handleSearchResult(w http.ResponseWriter, r *http.Request) {
	queryHash := chi.URLParam(r, "hash")
	record := s.registry.Get(queryHash)
	if record == nil {
		respondError(w, http.StatusNotFound, "unknown query_hash")
		return
	}

	envelope := models.SearchResultEnvelope{
		QueryHash: queryHash,
		Status:    record.Status,
		UpdatedAt: record.UpdatedAt.Format(time.RFC3339),
	}
	switch record.Status {
	case models.StatusPending:
		respondJSON(w, http.StatusAccepted, envelope)
	case models.StatusCompleted:
		if record.Result == nil {
			envelope.Status = models.StatusFailed
			envelope.Error = "Result unavailable"
			respondJSON(w, http.StatusInternalServerError, envelope)
			return
		}
		envelope.Result = record.Result
		respondJSON(w, http.StatusOK, envelope)
	case models.StatusFailed:
		envelope.Error = record.Error
		respondJSON(w, http.StatusOK, envelope)
	default:
		respondError(w, http.StatusInternalServerError, "unknown job status")
	}
}
