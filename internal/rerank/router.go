package rerank

import (
	"context"
	"errors"
	"time"

	"github.com/memsearch/mem-search/internal/classify"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

// Fallback reasons attached to degraded results.
const (
	ReasonTimeout     = "rerank_timeout"
	ReasonFailed      = "rerank_failed"
	ReasonRateLimited = "rerank_rate_limited"
	ReasonUnavailable = "rerank_unavailable"
)

// Gate admits or rejects a call by cost. The rate limiter implements it.
type Gate interface {
	CheckAndRecord(costCents int64) error
}

// Config holds router settings.
type Config struct {
	// Timeout bounds one rerank call for every tier but llm.
	Timeout time.Duration

	// LLMTimeout bounds the llm tier.
	LLMTimeout time.Duration

	// ModerateTier is the tier used for moderate-complexity queries.
	// Accurate by default; colbert trades quality for latency.
	ModerateTier Tier

	// LLMCostCents is the per-call cost charged against the gate.
	LLMCostCents int64
}

// DefaultConfig returns the default router settings.
func DefaultConfig() Config {
	return Config{
		Timeout:      500 * time.Millisecond,
		LLMTimeout:   5 * time.Second,
		ModerateTier: TierAccurate,
		LLMCostCents: 1,
	}
}

// Result is the router output. Rerank never fails: a tier failure
// produces the original ordering with Degraded set.
type Result struct {
	// Ranked references the input candidates by position, best first.
	Ranked []Ranked

	// Tier is the tier that was selected.
	Tier Tier

	// Degraded is set when the tier failed and the original order was
	// returned instead.
	Degraded bool

	// Reason identifies the failure when Degraded is set.
	Reason string
}

// Router selects a tier per query and executes it under a timeout.
type Router struct {
	cfg     Config
	rankers map[Tier]Ranker
	gate    Gate
	log     *logger.Logger
}

// NewRouter creates a router over the given tier implementations. gate
// may be nil to leave the llm tier ungated.
func NewRouter(cfg Config, rankers map[Tier]Ranker, gate Gate, log *logger.Logger) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultConfig().LLMTimeout
	}
	if !cfg.ModerateTier.Valid() {
		cfg.ModerateTier = TierAccurate
	}
	if cfg.LLMCostCents <= 0 {
		cfg.LLMCostCents = DefaultConfig().LLMCostCents
	}

	return &Router{
		cfg:     cfg,
		rankers: rankers,
		gate:    gate,
		log:     log.WithComponent("rerank"),
	}
}

// SelectTier picks the tier for a query. Precedence: explicit override,
// code syntax, complexity. The llm tier never wins implicitly.
func (r *Router) SelectTier(override Tier, c classify.Classification) Tier {
	if override != "" && override.Valid() {
		return override
	}
	if c.Features.HasCode {
		return TierCode
	}

	switch c.Complexity {
	case classify.ComplexityComplex:
		return TierAccurate
	case classify.ComplexityModerate:
		return r.cfg.ModerateTier
	default:
		return TierFast
	}
}

// Rerank scores candidates on the tier chosen for the query. topK
// bounds the returned list (0 means all).
func (r *Router) Rerank(ctx context.Context, query string, candidates []Candidate, override Tier, c classify.Classification, topK int) Result {
	tier := r.SelectTier(override, c)

	if len(candidates) == 0 {
		return Result{Tier: tier}
	}

	if tier == TierLLM && r.gate != nil {
		if err := r.gate.CheckAndRecord(r.cfg.LLMCostCents); err != nil {
			r.log.Warn("llm rerank rejected by rate limiter", "error", err)
			return r.fallback(tier, ReasonRateLimited, candidates, topK)
		}
	}

	ranker, ok := r.rankers[tier]
	if !ok {
		r.log.Warn("no ranker registered for tier", "tier", tier)
		return r.fallback(tier, ReasonUnavailable, candidates, topK)
	}

	timeout := r.cfg.Timeout
	if tier == TierLLM {
		timeout = r.cfg.LLMTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	documents := make([]string, len(candidates))
	for i, cand := range candidates {
		documents[i] = cand.Text
	}

	type rankOut struct {
		ranked []Ranked
		err    error
	}
	done := make(chan rankOut, 1)
	go func() {
		ranked, err := ranker.Rank(tctx, query, documents, topK)
		done <- rankOut{ranked: ranked, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			reason := ReasonFailed
			if errors.Is(out.err, context.DeadlineExceeded) {
				reason = ReasonTimeout
			}
			r.log.Warn("rerank tier failed", "tier", tier, "reason", reason, "error", out.err)
			return r.fallback(tier, reason, candidates, topK)
		}
		return Result{Ranked: out.ranked, Tier: tier}

	case <-tctx.Done():
		r.log.Warn("rerank tier timed out", "tier", tier, "timeout", timeout)
		return r.fallback(tier, ReasonTimeout, candidates, topK)
	}
}

// fallback returns the candidates in their original order.
func (r *Router) fallback(tier Tier, reason string, candidates []Candidate, topK int) Result {
	n := len(candidates)
	if topK > 0 && n > topK {
		n = topK
	}

	ranked := make([]Ranked, n)
	for i := range ranked {
		ranked[i] = Ranked{Index: i}
	}

	return Result{
		Ranked:   ranked,
		Tier:     tier,
		Degraded: true,
		Reason:   reason,
	}
}
