package search

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/memsearch/mem-search/internal/classify"
	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/rerank"
	"github.com/memsearch/mem-search/internal/store"
)

// CollectionSearcher runs a query against one named collection. The
// hybrid Retriever implements it.
type CollectionSearcher interface {
	SearchCollection(ctx context.Context, collection string, q Query) ([]Result, error)
}

// SessionRetriever searches hierarchically: first candidate sessions by
// their summaries, then the turns inside each candidate, with per-turn
// results attributed back to their session.
type SessionRetriever struct {
	cfg       config.SearchConfig
	complexAt int
	inner     CollectionSearcher
	reranker  Reranker
	log       *logger.Logger
}

// NewSessionRetriever creates a two-stage retriever on top of inner.
// reranker may be nil.
func NewSessionRetriever(cfg config.SearchConfig, rcfg config.RerankConfig, inner CollectionSearcher, reranker Reranker, log *logger.Logger) *SessionRetriever {
	if cfg.SessionTopK <= 0 {
		cfg.SessionTopK = 5
	}
	if cfg.TurnsPerSession <= 0 {
		cfg.TurnsPerSession = 5
	}
	if cfg.FinalTopK <= 0 {
		cfg.FinalTopK = 20
	}

	return &SessionRetriever{
		cfg:       cfg,
		complexAt: rcfg.ComplexityScore,
		inner:     inner,
		reranker:  reranker,
		log:       log.WithComponent("session-retriever"),
	}
}

// Search runs the two-stage retrieval. A failed per-session turn fetch
// drops that session's contribution; only stage 1 failing fails the
// request.
func (s *SessionRetriever) Search(ctx context.Context, q Query) ([]Result, error) {
	stage1 := q
	stage1.Limit = s.cfg.SessionTopK
	stage1.Rerank = false
	stage1.Filters.SessionID = ""
	stage1.Threshold = 0

	sessions, err := s.inner.SearchCollection(ctx, store.CollectionSessions, stage1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	turnLists := make([][]Result, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.ParallelTurnFetch {
		g.SetLimit(len(sessions))
	} else {
		g.SetLimit(1)
	}

	for i, session := range sessions {
		sessionID := session.Payload.SessionID
		if sessionID == "" {
			sessionID = session.ID
		}
		if sessionID == "" {
			continue
		}

		g.Go(func() error {
			stage2 := q
			stage2.Limit = s.cfg.TurnsPerSession
			stage2.Rerank = false
			stage2.Filters.SessionID = sessionID

			turns, err := s.inner.SearchCollection(gctx, store.CollectionTurns, stage2)
			if err != nil {
				s.log.Warn("turn fetch failed, dropping session",
					"session_id", sessionID, "error", err)
				return nil
			}

			for j := range turns {
				turns[j].SessionSummary = session.Payload.Summary
				turns[j].SessionScore = session.EffectiveScore()
				if turns[j].Payload.SessionID == "" {
					turns[j].Payload.SessionID = sessionID
				}
			}
			turnLists[i] = turns
			return nil
		})
	}
	g.Wait()

	results := make([]Result, 0, len(sessions)*s.cfg.TurnsPerSession)
	for _, turns := range turnLists {
		results = append(results, turns...)
	}

	sort.SliceStable(results, func(a, b int) bool {
		ea, eb := results[a].EffectiveScore(), results[b].EffectiveScore()
		if ea != eb {
			return ea > eb
		}
		if results[a].SessionScore != results[b].SessionScore {
			return results[a].SessionScore > results[b].SessionScore
		}
		return results[a].ID < results[b].ID
	})

	if q.Rerank && s.reranker != nil {
		results = s.applyRerank(ctx, q, results)
	}

	limit := s.cfg.FinalTopK
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *SessionRetriever) applyRerank(ctx context.Context, q Query, results []Result) []Result {
	if len(results) == 0 {
		return results
	}

	candidates := make([]rerank.Candidate, len(results))
	for i, res := range results {
		candidates[i] = rerank.Candidate{ID: res.ID, Text: res.Payload.Content}
	}

	c := classify.ClassifyAt(q.Text, s.complexAt)
	rr := s.reranker.Rerank(ctx, q.Text, candidates, q.Tier, c, 0)

	if rr.Degraded {
		for i := range results {
			results[i].markDegraded(rr.Reason)
		}
		return results
	}

	reordered := make([]Result, 0, len(results))
	taken := make([]bool, len(results))
	for _, ranked := range rr.Ranked {
		if ranked.Index < 0 || ranked.Index >= len(results) {
			continue
		}
		res := results[ranked.Index]
		score := ranked.Score
		res.RerankScore = &score
		res.TierUsed = rr.Tier
		reordered = append(reordered, res)
		taken[ranked.Index] = true
	}
	for i, res := range results {
		if !taken[i] {
			reordered = append(reordered, res)
		}
	}
	return reordered
}
