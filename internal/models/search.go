// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package models defines the request and response types carried across the
// HTTP surface and the cache tiers.
package models

// Job status values reported by the result endpoint.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Defaults applied when the client omits the result-shape parameters. An
// explicit value is still bounds-checked, so products_k of zero is rejected
// rather than defaulted.
const (
	DefaultProductsK         = 3
	DefaultReviewsPerProduct = 3
)

// SearchInitRequest asks the server to fingerprint a query without running it.
type SearchInitRequest struct {
	Query             string `json:"query" validate:"required"`
	ProductsK         *int   `json:"products_k" validate:"omitempty,min=1,max=50"`
	ReviewsPerProduct *int   `json:"reviews_per_product" validate:"omitempty,min=0,max=25"`
}

// ResultShape returns products_k and reviews_per_product with defaults
// applied for omitted fields.
func (r *SearchInitRequest) ResultShape() (productsK, reviewsPerProduct int) {
	return intOr(r.ProductsK, DefaultProductsK), intOr(r.ReviewsPerProduct, DefaultReviewsPerProduct)
}

// SearchInitResponse returns the fingerprint so the client can correlate the
// submit, result, and timeline endpoints.
type SearchInitResponse struct {
	QueryHash         string `json:"query_hash"`
	CanonicalQuery    string `json:"canonical_query"`
	ProductsK         int    `json:"products_k"`
	ReviewsPerProduct int    `json:"reviews_per_product"`
}

// SearchRequest submits a query for background execution. QueryHash is
// optional; when supplied it must match the server-computed fingerprint.
type SearchRequest struct {
	Query             string `json:"query" validate:"required"`
	ProductsK         *int   `json:"products_k" validate:"omitempty,min=1,max=50"`
	ReviewsPerProduct *int   `json:"reviews_per_product" validate:"omitempty,min=0,max=25"`
	QueryHash         string `json:"query_hash,omitempty"`
	BypassCache       bool   `json:"bypass_cache,omitempty"`
}

// ResultShape returns products_k and reviews_per_product with defaults
// applied for omitted fields.
func (r *SearchRequest) ResultShape() (productsK, reviewsPerProduct int) {
	return intOr(r.ProductsK, DefaultProductsK), intOr(r.ReviewsPerProduct, DefaultReviewsPerProduct)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// SearchAcceptedResponse is the 202 body returned on submission.
type SearchAcceptedResponse struct {
	QueryHash   string `json:"query_hash"`
	ResultURL   string `json:"result_url"`
	TimelineURL string `json:"timeline_url"`
	Status      string `json:"status"`
}

// SearchResultEnvelope wraps the polled result with its job status.
type SearchResultEnvelope struct {
	QueryHash string          `json:"query_hash"`
	Status    string          `json:"status"`
	Result    *SearchResponse `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

// SearchResponse is the final answer carried end-to-end and memoized in the
// cache tiers. Count always equals len(Results).
type SearchResponse struct {
	Query   string                `json:"query"`
	Count   int                   `json:"count"`
	Results []ProductSearchResult `json:"results"`
}

// ProductSearchResult is one recommended product with its supporting reviews
// and optional analysis.
type ProductSearchResult struct {
	ASIN            string           `json:"asin"`
	ProductTitle    string           `json:"product_title"`
	Description     string           `json:"description,omitempty"`
	Categories      []string         `json:"categories,omitempty"`
	Similarity      *float64         `json:"similarity,omitempty"`
	AvgRating       *float64         `json:"avg_rating,omitempty"`
	RatingCount     *int             `json:"rating_count,omitempty"`
	DisplayedRating *float64         `json:"displayed_rating,omitempty"`
	CombinedScore   *float64         `json:"combined_score,omitempty"`
	Reviews         []ProductReview  `json:"reviews"`
	Analysis        *ProductAnalysis `json:"analysis,omitempty"`
}

// ProductReview is one customer review attached to a result.
type ProductReview struct {
	Title   string  `json:"title,omitempty"`
	Text    string  `json:"text"`
	Rating  float64 `json:"rating,omitempty"`
	Helpful int     `json:"helpful_vote,omitempty"`
}

// ProductAnalysis is the per-product output of the analysis pipeline,
// linked to its product by ASIN.
type ProductAnalysis struct {
	ASIN        string  `json:"asin"`
	Explanation string  `json:"explanation"`
	Sentiment   string  `json:"sentiment,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}
