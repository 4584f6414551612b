package search

import (
	"context"
	"sync"
	"testing"

	"github.com/memsearch/mem-search/internal/config"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/rerank"
	"github.com/memsearch/mem-search/internal/store"
)

// fakeCollectionSearcher serves canned results per collection and
// records the queries it saw.
type fakeCollectionSearcher struct {
	mu       sync.Mutex
	sessions []Result
	turns    map[string][]Result
	turnErr  map[string]error
	queries  []Query
}

func (f *fakeCollectionSearcher) SearchCollection(ctx context.Context, collection string, q Query) ([]Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	switch collection {
	case store.CollectionSessions:
		return f.sessions, nil
	case store.CollectionTurns:
		if err := f.turnErr[q.Filters.SessionID]; err != nil {
			return nil, err
		}
		return f.turns[q.Filters.SessionID], nil
	}
	return nil, nil
}

func sessionResult(id, summary string, score float32) Result {
	return Result{
		ID:    id,
		Score: score,
		Payload: store.Payload{
			OrgID:     "o1",
			SessionID: id,
			Summary:   summary,
		},
	}
}

func turnResult(id, sessionID string, score float32) Result {
	return Result{
		ID:    id,
		Score: score,
		Payload: store.Payload{
			OrgID:     "o1",
			SessionID: sessionID,
			Content:   "turn " + id,
		},
	}
}

func newTestSessionRetriever(inner CollectionSearcher, rr Reranker) *SessionRetriever {
	cfg := config.SearchConfig{
		SessionTopK:       2,
		TurnsPerSession:   2,
		FinalTopK:         10,
		ParallelTurnFetch: true,
	}
	return NewSessionRetriever(cfg, config.RerankConfig{}, inner, rr, logger.Default())
}

func TestSessionSearchAttributesResults(t *testing.T) {
	inner := &fakeCollectionSearcher{
		sessions: []Result{
			sessionResult("s1", "standup notes", 0.9),
			sessionResult("s2", "retro notes", 0.7),
		},
		turns: map[string][]Result{
			"s1": {turnResult("t1", "s1", 0.8), turnResult("t2", "s1", 0.6)},
			"s2": {turnResult("t3", "s2", 0.7)},
		},
	}
	s := newTestSessionRetriever(inner, nil)

	results, err := s.Search(context.Background(), Query{
		Text:    "notes",
		Limit:   10,
		Filters: Filters{OrgID: "o1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(results), results)
	}

	// Best-first across sessions.
	if results[0].ID != "t1" || results[1].ID != "t3" || results[2].ID != "t2" {
		t.Errorf("unexpected order: %s %s %s", results[0].ID, results[1].ID, results[2].ID)
	}

	for _, res := range results {
		if res.SessionSummary == "" || res.SessionScore == 0 {
			t.Errorf("missing session attribution: %+v", res)
		}
		if res.Payload.SessionID == "" {
			t.Errorf("missing session id: %+v", res)
		}
	}
	if results[0].SessionSummary != "standup notes" || results[0].SessionScore != 0.9 {
		t.Errorf("wrong attribution for t1: %+v", results[0])
	}
}

func TestSessionStage2QueriesAreScoped(t *testing.T) {
	inner := &fakeCollectionSearcher{
		sessions: []Result{sessionResult("s1", "sum", 0.9)},
		turns:    map[string][]Result{"s1": {turnResult("t1", "s1", 0.5)}},
	}
	s := newTestSessionRetriever(inner, nil)

	_, err := s.Search(context.Background(), Query{
		Text:    "notes",
		Filters: Filters{OrgID: "o1"},
		Rerank:  true,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(inner.queries) != 2 {
		t.Fatalf("queries = %d, want 2 (stage1 + one stage2)", len(inner.queries))
	}

	stage1, stage2 := inner.queries[0], inner.queries[1]
	if stage1.Limit != 2 || stage1.Filters.SessionID != "" || stage1.Rerank {
		t.Errorf("stage1 query wrong: %+v", stage1)
	}
	if stage2.Limit != 2 || stage2.Filters.SessionID != "s1" || stage2.Rerank {
		t.Errorf("stage2 query wrong: %+v", stage2)
	}
	if stage2.Filters.OrgID != "o1" {
		t.Error("tenant filter must survive into stage 2")
	}
}

func TestSessionFailedTurnFetchDropsSession(t *testing.T) {
	inner := &fakeCollectionSearcher{
		sessions: []Result{
			sessionResult("s1", "good", 0.9),
			sessionResult("s2", "bad", 0.8),
		},
		turns:   map[string][]Result{"s1": {turnResult("t1", "s1", 0.5)}},
		turnErr: map[string]error{"s2": apperrors.New(apperrors.CodeStoreError, "down")},
	}
	s := newTestSessionRetriever(inner, nil)

	results, err := s.Search(context.Background(), Query{
		Text:    "notes",
		Filters: Filters{OrgID: "o1"},
	})
	if err != nil {
		t.Fatalf("a failed session must not fail the request: %v", err)
	}

	if len(results) != 1 || results[0].ID != "t1" {
		t.Errorf("expected only s1's turn, got %+v", results)
	}
}

func TestSessionNoCandidates(t *testing.T) {
	inner := &fakeCollectionSearcher{}
	s := newTestSessionRetriever(inner, nil)

	results, err := s.Search(context.Background(), Query{
		Text:    "notes",
		Filters: Filters{OrgID: "o1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
	if len(inner.queries) != 1 {
		t.Errorf("expected stage 2 to be skipped, saw %d queries", len(inner.queries))
	}
}

func TestSessionFinalTopK(t *testing.T) {
	inner := &fakeCollectionSearcher{
		sessions: []Result{sessionResult("s1", "sum", 0.9)},
		turns:    map[string][]Result{"s1": {turnResult("t1", "s1", 0.9), turnResult("t2", "s1", 0.8)}},
	}
	cfg := config.SearchConfig{SessionTopK: 1, TurnsPerSession: 5, FinalTopK: 1, ParallelTurnFetch: false}
	s := NewSessionRetriever(cfg, config.RerankConfig{}, inner, nil, logger.Default())

	results, err := s.Search(context.Background(), Query{
		Text:    "notes",
		Filters: Filters{OrgID: "o1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "t1" {
		t.Errorf("expected truncation to final_top_k, got %+v", results)
	}
}

func TestSessionRerankFlattenedResults(t *testing.T) {
	inner := &fakeCollectionSearcher{
		sessions: []Result{sessionResult("s1", "sum", 0.9)},
		turns:    map[string][]Result{"s1": {turnResult("t1", "s1", 0.9), turnResult("t2", "s1", 0.5)}},
	}
	rr := &fakeReranker{result: rerank.Result{
		Tier:   rerank.TierColbert,
		Ranked: []rerank.Ranked{{Index: 1, Score: 0.99}, {Index: 0, Score: 0.1}},
	}}
	s := newTestSessionRetriever(inner, rr)

	results, err := s.Search(context.Background(), Query{
		Text:    "notes",
		Rerank:  true,
		Filters: Filters{OrgID: "o1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if rr.calls != 1 {
		t.Fatalf("reranker calls = %d, want 1", rr.calls)
	}
	if results[0].ID != "t2" {
		t.Errorf("rerank order not applied: %+v", results)
	}
	if results[0].TierUsed != rerank.TierColbert || results[0].RerankScore == nil {
		t.Errorf("rerank metadata missing: %+v", results[0])
	}
}
