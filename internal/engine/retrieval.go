// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package engine holds the HTTP clients for the two external collaborators:
// the hybrid retrieval service and the LLM analysis pipeline. Both clients
// sit behind circuit breakers so a failing upstream sheds load fast instead
// of stacking timeouts.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	json "github.com/goccy/go-json"

	"github.com/tessera-ai/retriever/internal/logging"
	"github.com/tessera-ai/retriever/internal/models"
	"github.com/tessera-ai/retriever/internal/search"
)

// DefaultTimeout bounds each upstream HTTP call when none is configured.
const DefaultTimeout = 30 * time.Second

// Candidate sizing caps. The retrieval service over-fetches candidates and
// reviews so downstream ranking has room to discard.
const (
	maxProductCandidates = 60
	maxReviewCandidates  = 300
)

// CandidateSizing is the over-fetch plan sent to the retrieval service.
type CandidateSizing struct {
	ProductCandidateK  int `json:"product_candidate_k"`
	ReviewCandidateK   int `json:"review_candidate_k"`
	ReviewPartitionCap int `json:"review_partition_cap"`
}

// SizeCandidates derives the over-fetch plan from the requested result
// shape.
func SizeCandidates(productsK, reviewsPerProduct int) CandidateSizing {
	productCandidates := productsK * 4
	if productCandidates < productsK {
		productCandidates = productsK
	}
	if productCandidates > maxProductCandidates {
		productCandidates = maxProductCandidates
	}

	reviewCandidates := productsK * reviewsPerProduct * 6
	if reviewCandidates < reviewsPerProduct {
		reviewCandidates = reviewsPerProduct
	}
	if reviewCandidates > maxReviewCandidates {
		reviewCandidates = maxReviewCandidates
	}

	partitionCap := reviewsPerProduct * 3
	if partitionCap < reviewsPerProduct {
		partitionCap = reviewsPerProduct
	}

	return CandidateSizing{
		ProductCandidateK:  productCandidates,
		ReviewCandidateK:   reviewCandidates,
		ReviewPartitionCap: partitionCap,
	}
}

// RetrievalClient implements search.Engine against the retrieval service.
type RetrievalClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]models.ProductSearchResult]
}

type retrievalRequest struct {
	Query             string `json:"query"`
	ProductsK         int    `json:"products_k"`
	ReviewsPerProduct int    `json:"reviews_per_product"`
	CandidateSizing
}

type retrievalResponse struct {
	Products []models.ProductSearchResult `json:"products"`
}

// NewRetrievalClient builds the client. A zero timeout uses DefaultTimeout.
func NewRetrievalClient(baseURL string, timeout time.Duration) *RetrievalClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RetrievalClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker[[]models.ProductSearchResult]("retrieval"),
	}
}

// HybridSearch runs one retrieval round trip, reporting progress through
// emit.
func (c *RetrievalClient) HybridSearch(ctx context.Context, query string, productsK, reviewsPerProduct int, emit search.EmitFunc) ([]models.ProductSearchResult, error) {
	sizing := SizeCandidates(productsK, reviewsPerProduct)
	emit("search.bq.started", map[string]any{
		"query":                query,
		"product_candidate_k":  sizing.ProductCandidateK,
		"review_candidate_k":   sizing.ReviewCandidateK,
		"review_partition_cap": sizing.ReviewPartitionCap,
	})

	products, err := c.breaker.Execute(func() ([]models.ProductSearchResult, error) {
		var decoded retrievalResponse
		err := postJSON(ctx, c.client, c.baseURL, retrievalRequest{
			Query:             query,
			ProductsK:         productsK,
			ReviewsPerProduct: reviewsPerProduct,
			CandidateSizing:   sizing,
		}, &decoded)
		if err != nil {
			return nil, err
		}
		return decoded.Products, nil
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	emit("search.bq.completed", map[string]any{"rows": len(products)})

	reviewCount := 0
	for _, p := range products {
		reviewCount += len(p.Reviews)
	}
	emit("search.reviews.selected", map[string]any{
		"review_count":  reviewCount,
		"product_count": len(products),
	})
	return products, nil
}

// newBreaker builds the shared breaker profile: trip after five consecutive
// failures, probe again after 30 seconds.
func newBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// postJSON sends one JSON request and decodes a JSON reply into out.
func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
