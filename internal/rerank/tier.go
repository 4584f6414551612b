// Package rerank re-scores retrieval candidates through a tiered set of
// rankers, trading quality against latency. The router picks a tier,
// bounds it with a timeout, and falls back to the original order when
// the tier fails.
package rerank

import (
	"context"
)

// Tier names one quality/latency tradeoff point.
type Tier string

const (
	// TierFast is a small cross-encoder, ~10ms.
	TierFast Tier = "fast"

	// TierAccurate is a large cross-encoder, ~50ms.
	TierAccurate Tier = "accurate"

	// TierCode is a code-tuned cross-encoder, ~50ms.
	TierCode Tier = "code"

	// TierColbert scores with late-interaction MaxSim, ~30ms.
	TierColbert Tier = "colbert"

	// TierLLM asks the LLM provider to order candidates, ~500ms.
	// Only selectable explicitly, gated by the rate limiter.
	TierLLM Tier = "llm"
)

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFast, TierAccurate, TierCode, TierColbert, TierLLM:
		return true
	}
	return false
}

// Candidate is one document offered for reranking.
type Candidate struct {
	// ID is the opaque store identifier.
	ID string

	// Text is the content to score against the query.
	Text string
}

// Ranked references an input candidate by position with its new score.
type Ranked struct {
	Index int
	Score float32
}

// Ranker scores documents against a query. Implementations return
// results sorted by score descending, at most topK (0 means all).
type Ranker interface {
	Rank(ctx context.Context, query string, documents []string, topK int) ([]Ranked, error)
}
