// Package search implements the retrieval core: strategy dispatch over
// the store, RRF fusion, reranking hand-off, session-aware two-stage
// retrieval, and LLM-driven multi-query expansion.
package search

import (
	"github.com/memsearch/mem-search/internal/classify"
	"github.com/memsearch/mem-search/internal/rerank"
	"github.com/memsearch/mem-search/internal/store"
)

// Filters constrain a query to matching payloads. OrgID is mandatory:
// every search is tenant-scoped.
type Filters struct {
	OrgID        string `json:"org_id"`
	SessionID    string `json:"session_id,omitempty"`
	Type         string `json:"type,omitempty"`
	TimeStartMs  int64  `json:"time_start_ms,omitempty"`
	TimeEndMs    int64  `json:"time_end_ms,omitempty"`
	VTEndAfterMs int64  `json:"vt_end_after_ms,omitempty"`
}

// Query is an immutable request descriptor.
type Query struct {
	// Text is the free-text query. Required.
	Text string `json:"text"`

	// Limit caps the result count, in [1, 100].
	Limit int `json:"limit"`

	// Threshold drops results whose effective score falls below it.
	Threshold float32 `json:"threshold"`

	// Filters scope the search.
	Filters Filters `json:"filters"`

	// Strategy overrides the classifier when set.
	Strategy classify.Strategy `json:"strategy,omitempty"`

	// Rerank requests reranking of the top candidates.
	Rerank bool `json:"rerank"`

	// Tier overrides the router's tier choice when set.
	Tier rerank.Tier `json:"tier,omitempty"`

	// RerankDepth is how many candidates to feed the reranker, in [1, 100].
	RerankDepth int `json:"rerank_depth,omitempty"`
}

// Result is one retrieval hit.
type Result struct {
	// ID is the store point id.
	ID string `json:"id"`

	// Score is the base similarity score from the store (the best one
	// seen, for fused results).
	Score float32 `json:"score"`

	// RRFScore is set exactly on results that passed through fusion.
	RRFScore *float32 `json:"rrf_score,omitempty"`

	// RerankScore is set exactly on results that survived reranking.
	RerankScore *float32 `json:"rerank_score,omitempty"`

	// TierUsed is the rerank tier that scored this result.
	TierUsed rerank.Tier `json:"tier_used,omitempty"`

	// Payload is the point metadata.
	Payload store.Payload `json:"payload"`

	// SessionSummary and SessionScore attribute a turn to its session
	// in two-stage retrieval.
	SessionSummary string  `json:"session_summary,omitempty"`
	SessionScore   float32 `json:"session_score,omitempty"`

	// Degraded marks a result produced while some stage was running on
	// a fallback path. Once set it is never cleared downstream.
	Degraded bool `json:"degraded,omitempty"`

	// DegradedReason identifies the failed stage.
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// EffectiveScore is the score the threshold filter and default ordering
// use: rerank score if present, else RRF score, else base score.
func (r *Result) EffectiveScore() float32 {
	if r.RerankScore != nil {
		return *r.RerankScore
	}
	if r.RRFScore != nil {
		return *r.RRFScore
	}
	return r.Score
}

// markDegraded sets the degraded flag, augmenting the reason when one
// is already present.
func (r *Result) markDegraded(reason string) {
	r.Degraded = true
	if r.DegradedReason == "" {
		r.DegradedReason = reason
	} else if reason != "" && r.DegradedReason != reason {
		r.DegradedReason += "," + reason
	}
}

// Response is the wire shape returned to the HTTP surface.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	TookMs  int64    `json:"took_ms"`
}
