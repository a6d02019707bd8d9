// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package search composes the cache tiers into the multi-tier response
// cache and drives the full pipeline: admission, cache lookup, retrieval,
// analysis, store, completion.
package search

import (
	"context"

	"github.com/tessera-ai/retriever/internal/models"
)

// EmitFunc lets collaborators append their own steps to the caller's
// timeline while they run.
type EmitFunc func(step string, payload map[string]any)

// Engine is the hybrid retrieval collaborator. It returns candidate
// products with reviews attached and reports progress through emit
// (search.bq.started, search.bq.completed, search.reviews.selected).
type Engine interface {
	HybridSearch(ctx context.Context, query string, productsK, reviewsPerProduct int, emit EmitFunc) ([]models.ProductSearchResult, error)
}

// Pipeline is the analysis collaborator. It returns one analysis per
// product, linked by ASIN, and emits rag.product.analysis as it goes.
type Pipeline interface {
	GenerateBatchExplanations(ctx context.Context, query string, products []models.ProductSearchResult, emit EmitFunc) ([]models.ProductAnalysis, error)
}
