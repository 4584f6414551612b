package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/memsearch/mem-search/internal/classify"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

type fakeRanker struct {
	ranked []Ranked
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeRanker) Rank(ctx context.Context, query string, documents []string, topK int) ([]Ranked, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.ranked, nil
}

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) CheckAndRecord(costCents int64) error {
	g.calls++
	return g.err
}

func candidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{ID: string(rune('a' + i)), Text: "doc"}
	}
	return out
}

func TestSelectTierPrecedence(t *testing.T) {
	router := NewRouter(DefaultConfig(), nil, nil, logger.Default())

	codeClass := classify.Classification{
		Features:   classify.Features{HasCode: true},
		Complexity: classify.ComplexityComplex,
	}

	// Override wins over everything.
	if got := router.SelectTier(TierColbert, codeClass); got != TierColbert {
		t.Errorf("override: got %s, want colbert", got)
	}

	// Code syntax beats complexity.
	if got := router.SelectTier("", codeClass); got != TierCode {
		t.Errorf("code: got %s, want code", got)
	}

	cases := []struct {
		complexity classify.Complexity
		want       Tier
	}{
		{classify.ComplexityComplex, TierAccurate},
		{classify.ComplexityModerate, TierAccurate},
		{classify.ComplexitySimple, TierFast},
	}
	for _, tc := range cases {
		c := classify.Classification{Complexity: tc.complexity}
		if got := router.SelectTier("", c); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.complexity, got, tc.want)
		}
	}
}

func TestModerateTierConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModerateTier = TierColbert
	router := NewRouter(cfg, nil, nil, logger.Default())

	c := classify.Classification{Complexity: classify.ComplexityModerate}
	if got := router.SelectTier("", c); got != TierColbert {
		t.Errorf("got %s, want colbert", got)
	}
}

func TestRerankSuccess(t *testing.T) {
	ranker := &fakeRanker{ranked: []Ranked{{Index: 2, Score: 0.9}, {Index: 0, Score: 0.5}}}
	router := NewRouter(DefaultConfig(), map[Tier]Ranker{TierFast: ranker}, nil, logger.Default())

	res := router.Rerank(context.Background(), "q", candidates(3), "",
		classify.Classification{Complexity: classify.ComplexitySimple}, 0)

	if res.Degraded {
		t.Fatalf("unexpected degraded result: %+v", res)
	}
	if res.Tier != TierFast {
		t.Errorf("tier = %s, want fast", res.Tier)
	}
	if len(res.Ranked) != 2 || res.Ranked[0].Index != 2 {
		t.Errorf("unexpected ranking: %+v", res.Ranked)
	}
}

func TestRerankTimeoutDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond

	ranker := &fakeRanker{delay: 200 * time.Millisecond, ranked: []Ranked{{Index: 1, Score: 1}}}
	router := NewRouter(cfg, map[Tier]Ranker{TierAccurate: ranker}, nil, logger.Default())

	res := router.Rerank(context.Background(), "q", candidates(3), TierAccurate,
		classify.Classification{}, 0)

	if !res.Degraded || res.Reason != ReasonTimeout {
		t.Fatalf("expected rerank_timeout degradation, got %+v", res)
	}

	// Fallback preserves the original order.
	for i, r := range res.Ranked {
		if r.Index != i {
			t.Errorf("fallback order broken at %d: %+v", i, res.Ranked)
		}
	}
}

func TestRerankFailureDegrades(t *testing.T) {
	ranker := &fakeRanker{err: apperrors.New(apperrors.CodeEmbedderError, "boom")}
	router := NewRouter(DefaultConfig(), map[Tier]Ranker{TierFast: ranker}, nil, logger.Default())

	res := router.Rerank(context.Background(), "q", candidates(2), TierFast, classify.Classification{}, 0)

	if !res.Degraded || res.Reason != ReasonFailed {
		t.Errorf("expected rerank_failed degradation, got %+v", res)
	}
}

func TestLLMTierGatedByRateLimiter(t *testing.T) {
	gate := &fakeGate{err: apperrors.RateLimitedError(60)}
	ranker := &fakeRanker{ranked: []Ranked{{Index: 0, Score: 1}}}
	router := NewRouter(DefaultConfig(), map[Tier]Ranker{TierLLM: ranker}, gate, logger.Default())

	res := router.Rerank(context.Background(), "q", candidates(2), TierLLM, classify.Classification{}, 0)

	if !res.Degraded || res.Reason != ReasonRateLimited {
		t.Fatalf("expected rerank_rate_limited degradation, got %+v", res)
	}
	if ranker.calls != 0 {
		t.Error("ranker must not run when the gate rejects")
	}

	// Admitted calls pass through.
	gate.err = nil
	res = router.Rerank(context.Background(), "q", candidates(2), TierLLM, classify.Classification{}, 0)
	if res.Degraded {
		t.Errorf("expected success after gate admits: %+v", res)
	}
	if gate.calls != 2 {
		t.Errorf("gate calls = %d, want 2", gate.calls)
	}
}

func TestFastTiersBypassGate(t *testing.T) {
	gate := &fakeGate{}
	ranker := &fakeRanker{ranked: []Ranked{{Index: 0, Score: 1}}}
	router := NewRouter(DefaultConfig(), map[Tier]Ranker{TierFast: ranker}, gate, logger.Default())

	router.Rerank(context.Background(), "q", candidates(1), TierFast, classify.Classification{}, 0)

	if gate.calls != 0 {
		t.Error("non-llm tiers must not consume rate limit budget")
	}
}

func TestUnknownTierFallsBack(t *testing.T) {
	router := NewRouter(DefaultConfig(), map[Tier]Ranker{}, nil, logger.Default())

	res := router.Rerank(context.Background(), "q", candidates(2), TierColbert, classify.Classification{}, 0)

	if !res.Degraded || res.Reason != ReasonUnavailable {
		t.Errorf("expected rerank_unavailable, got %+v", res)
	}
}

func TestEmptyCandidates(t *testing.T) {
	router := NewRouter(DefaultConfig(), nil, nil, logger.Default())

	res := router.Rerank(context.Background(), "q", nil, TierFast, classify.Classification{}, 0)
	if res.Degraded || len(res.Ranked) != 0 {
		t.Errorf("expected clean empty result, got %+v", res)
	}
}

func TestFallbackHonorsTopK(t *testing.T) {
	ranker := &fakeRanker{err: apperrors.New(apperrors.CodeInternal, "boom")}
	router := NewRouter(DefaultConfig(), map[Tier]Ranker{TierFast: ranker}, nil, logger.Default())

	res := router.Rerank(context.Background(), "q", candidates(5), TierFast, classify.Classification{}, 3)
	if len(res.Ranked) != 3 {
		t.Errorf("fallback length = %d, want 3", len(res.Ranked))
	}
}

func TestMaxSim(t *testing.T) {
	query := [][]float32{{1, 0}, {0, 1}}
	doc := [][]float32{{0.5, 0}, {0, 0.8}}

	// Token 1 best = 0.5, token 2 best = 0.8.
	if got := maxSim(query, doc); got != 1.3 {
		t.Errorf("maxSim = %v, want 1.3", got)
	}

	if got := maxSim(query, nil); got != 0 {
		t.Errorf("maxSim against empty doc = %v, want 0", got)
	}
}

func TestParseRanking(t *testing.T) {
	ranked, err := parseRanking("Here you go:\n```json\n[{\"index\":1,\"score\":0.9},{\"index\":0,\"score\":0.4}]\n```", 2)
	if err != nil {
		t.Fatalf("parseRanking: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Index != 1 {
		t.Errorf("unexpected parse: %+v", ranked)
	}

	// Out-of-range and duplicate indices are dropped.
	ranked, err = parseRanking(`[{"index":5,"score":1},{"index":0,"score":0.2},{"index":0,"score":0.1}]`, 2)
	if err != nil {
		t.Fatalf("parseRanking: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Index != 0 {
		t.Errorf("unexpected filtered parse: %+v", ranked)
	}

	if _, err := parseRanking("no json here", 2); !apperrors.IsCode(err, apperrors.CodeLLMError) {
		t.Errorf("expected LLM_ERROR for unparseable output, got %v", err)
	}
}
