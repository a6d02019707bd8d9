// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tessera-ai/retriever/internal/models"
	"github.com/tessera-ai/retriever/internal/search"
)

// AnalysisClient implements search.Pipeline against the LLM analysis
// service. Products go upstream in chunks when batching is enabled so one
// slow product does not stall the whole set.
type AnalysisClient struct {
	baseURL         string
	client          *http.Client
	breaker         *gobreaker.CircuitBreaker[[]models.ProductAnalysis]
	batchingEnabled bool
	batchSize       int
}

type analysisRequest struct {
	Query    string                       `json:"query"`
	Products []models.ProductSearchResult `json:"products"`
}

type analysisResponse struct {
	Analyses []models.ProductAnalysis `json:"analyses"`
}

// NewAnalysisClient builds the client. A zero timeout uses DefaultTimeout;
// a batch size below one disables batching.
func NewAnalysisClient(baseURL string, timeout time.Duration, batchingEnabled bool, batchSize int) *AnalysisClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if batchSize < 1 {
		batchingEnabled = false
		batchSize = 1
	}
	return &AnalysisClient{
		baseURL:         baseURL,
		client:          &http.Client{Timeout: timeout},
		breaker:         newBreaker[[]models.ProductAnalysis]("analysis"),
		batchingEnabled: batchingEnabled,
		batchSize:       batchSize,
	}
}

// GenerateBatchExplanations returns one analysis per product, emitting
// rag.product.analysis as each analysis arrives.
func (c *AnalysisClient) GenerateBatchExplanations(ctx context.Context, query string, products []models.ProductSearchResult, emit search.EmitFunc) ([]models.ProductAnalysis, error) {
	analyses := make([]models.ProductAnalysis, 0, len(products))
	for _, chunk := range c.chunks(products) {
		batch, err := c.breaker.Execute(func() ([]models.ProductAnalysis, error) {
			var decoded analysisResponse
			if err := postJSON(ctx, c.client, c.baseURL, analysisRequest{Query: query, Products: chunk}, &decoded); err != nil {
				return nil, err
			}
			return decoded.Analyses, nil
		})
		if err != nil {
			return nil, fmt.Errorf("batch explanations: %w", err)
		}
		for _, analysis := range batch {
			emit("rag.product.analysis", map[string]any{
				"asin":      analysis.ASIN,
				"sentiment": analysis.Sentiment,
			})
			analyses = append(analyses, analysis)
		}
	}
	return analyses, nil
}

func (c *AnalysisClient) chunks(products []models.ProductSearchResult) [][]models.ProductSearchResult {
	if !c.batchingEnabled || len(products) <= c.batchSize {
		return [][]models.ProductSearchResult{products}
	}
	var out [][]models.ProductSearchResult
	for start := 0; start < len(products); start += c.batchSize {
		end := start + c.batchSize
		if end > len(products) {
			end = len(products)
		}
		out = append(out, products[start:end])
	}
	return out
}
