package search

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/memsearch/mem-search/internal/classify"
	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/embed"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/rerank"
	"github.com/memsearch/mem-search/internal/search/fusion"
	"github.com/memsearch/mem-search/internal/store"
)

// Degraded reasons produced by the retriever itself.
const (
	reasonDenseFailed     = "dense_failed"
	reasonSparseFailed    = "sparse_failed"
	reasonRetrievalFailed = "retrieval_failed"
)

// EmbedderSource hands out the embedders retrieval needs. The embed
// registry implements it.
type EmbedderSource interface {
	Text(ctx context.Context) (embed.Embedder, error)
	Code(ctx context.Context) (embed.Embedder, error)
	Sparse(ctx context.Context) (embed.SparseEmbedder, error)
}

// Reranker is the router capability the retriever consumes.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []rerank.Candidate, override rerank.Tier, c classify.Classification, topK int) rerank.Result
}

// Retriever executes queries against the store: classify, dispatch,
// fuse, filter, rerank, trim.
type Retriever struct {
	cfg       config.SearchConfig
	depth     int
	complexAt int
	searcher  store.Searcher
	embedders EmbedderSource
	reranker  Reranker
	log       *logger.Logger
}

// NewRetriever creates a retriever. reranker may be nil; queries asking
// for rerank then pass through unreranked.
func NewRetriever(cfg config.SearchConfig, rcfg config.RerankConfig, searcher store.Searcher, embedders EmbedderSource, reranker Reranker, log *logger.Logger) *Retriever {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = fusion.DefaultK
	}
	depth := rcfg.Depth
	if depth <= 0 {
		depth = 50
	}

	return &Retriever{
		cfg:       cfg,
		depth:     depth,
		complexAt: rcfg.ComplexityScore,
		searcher:  searcher,
		embedders: embedders,
		reranker:  reranker,
		log:       log.WithComponent("retriever"),
	}
}

// Search runs the query against the memories collection.
func (r *Retriever) Search(ctx context.Context, q Query) ([]Result, error) {
	return r.SearchCollection(ctx, store.CollectionMemories, q)
}

// SearchCollection runs the query against one collection. Results come
// back best-first, at most q.Limit of them.
func (r *Retriever) SearchCollection(ctx context.Context, collection string, q Query) ([]Result, error) {
	if q.Filters.OrgID == "" {
		return nil, apperrors.TenantMissingError()
	}

	limit := q.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}

	classification := classify.ClassifyAt(q.Text, r.complexAt)
	strategy := q.Strategy
	if strategy == "" {
		strategy = classification.Strategy
	}
	if strategy == "" {
		strategy = classify.Strategy(r.cfg.DefaultStrategy)
	}

	depth := q.RerankDepth
	if depth <= 0 {
		depth = r.depth
	}
	fetch := limit
	if q.Rerank {
		fetch = depth
	}

	useCode := classification.Features.HasCode

	var (
		results []Result
		err     error
	)
	switch strategy {
	case classify.StrategyDense:
		results, err = r.denseLeg(ctx, collection, q, fetch, useCode)
	case classify.StrategySparse:
		results, err = r.sparseLeg(ctx, collection, q, fetch)
	default:
		results, err = r.hybrid(ctx, collection, q, fetch, useCode)
	}
	if err != nil {
		return nil, err
	}

	results = r.applyThreshold(strategy, q.Threshold, results)

	if q.Rerank && r.reranker != nil {
		results = r.applyRerank(ctx, q, classification, results, depth)
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// denseLeg embeds the query text and searches a dense vector space.
// Code-flavored queries go through the code model and the code_dense
// vector; everything else uses the text space.
func (r *Retriever) denseLeg(ctx context.Context, collection string, q Query, limit int, useCode bool) ([]Result, error) {
	source := r.embedders.Text
	using := store.VectorTextDense
	if useCode {
		source = r.embedders.Code
		using = store.VectorCodeDense
	}

	embedder, err := source(ctx)
	if err != nil {
		return nil, err
	}

	vec, err := embedder.Embed(ctx, q.Text, true)
	if err != nil {
		return nil, err
	}

	hits, err := r.searcher.DenseSearch(ctx, collection, store.SearchRequest{
		Dense:  vec,
		Using:  using,
		Limit:  uint64(limit),
		Filter: storeFilter(q.Filters),
	})
	if err != nil {
		return nil, err
	}

	return fromStoreResults(hits), nil
}

// sparseLeg computes the sparse embedding and searches the sparse vector.
func (r *Retriever) sparseLeg(ctx context.Context, collection string, q Query, limit int) ([]Result, error) {
	embedder, err := r.embedders.Sparse(ctx)
	if err != nil {
		return nil, err
	}

	vec, err := embedder.EmbedSparse(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	hits, err := r.searcher.SparseSearch(ctx, collection, store.SearchRequest{
		Sparse: &store.SparseVector{Indices: vec.Indices, Values: vec.Values},
		Limit:  uint64(limit),
		Filter: storeFilter(q.Filters),
	})
	if err != nil {
		return nil, err
	}

	return fromStoreResults(hits), nil
}

// hybrid runs both legs in parallel and fuses with RRF. One failed leg
// degrades the other leg's results; both failing yields a single empty
// degraded result.
func (r *Retriever) hybrid(ctx context.Context, collection string, q Query, limit int, useCode bool) ([]Result, error) {
	var (
		dense, sparse       []Result
		denseErr, sparseErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = r.denseLeg(gctx, collection, q, limit, useCode)
		return nil
	})
	g.Go(func() error {
		sparse, sparseErr = r.sparseLeg(gctx, collection, q, limit)
		return nil
	})
	g.Wait()

	if denseErr != nil && sparseErr != nil {
		r.log.Error("both hybrid legs failed", "dense_error", denseErr, "sparse_error", sparseErr)
		empty := Result{}
		empty.markDegraded(reasonRetrievalFailed)
		return []Result{empty}, nil
	}

	var lists [][]Result
	degradedReason := ""
	switch {
	case denseErr != nil:
		r.log.Warn("dense leg failed, degrading to sparse", "error", denseErr)
		lists = [][]Result{sparse}
		degradedReason = reasonDenseFailed
	case sparseErr != nil:
		r.log.Warn("sparse leg failed, degrading to dense", "error", sparseErr)
		lists = [][]Result{dense}
		degradedReason = reasonSparseFailed
	default:
		lists = [][]Result{dense, sparse}
	}

	fused := r.fuse(lists)
	if degradedReason != "" {
		for i := range fused {
			fused[i].markDegraded(degradedReason)
		}
	}
	return fused, nil
}

// fuse merges result lists by RRF, keeping the richest payload per id.
func (r *Retriever) fuse(lists [][]Result) []Result {
	byID := make(map[string]Result)
	entries := make([][]fusion.Entry, len(lists))
	for i, list := range lists {
		entries[i] = make([]fusion.Entry, len(list))
		for j, res := range list {
			entries[i][j] = fusion.Entry{ID: res.ID, Score: res.Score}
			if existing, ok := byID[res.ID]; !ok || (res.Degraded && !existing.Degraded) {
				byID[res.ID] = res
			}
		}
	}

	fused := fusion.Fuse(r.cfg.RRFK, entries...)

	out := make([]Result, 0, len(fused))
	for _, f := range fused {
		res := byID[f.ID]
		res.Score = f.BestScore
		rrf := f.RRFScore
		res.RRFScore = &rrf
		out = append(out, res)
	}
	return out
}

// applyThreshold floors the query threshold with the per-strategy
// minimum and drops results below it on their effective score.
func (r *Retriever) applyThreshold(strategy classify.Strategy, threshold float32, results []Result) []Result {
	if floor := r.minScore(strategy); threshold < floor {
		threshold = floor
	}
	if threshold <= 0 {
		return results
	}

	kept := results[:0]
	for _, res := range results {
		// The empty degraded marker survives filtering.
		if res.ID == "" && res.Degraded {
			kept = append(kept, res)
			continue
		}
		if res.EffectiveScore() >= threshold {
			kept = append(kept, res)
		}
	}
	return kept
}

func (r *Retriever) minScore(strategy classify.Strategy) float32 {
	switch strategy {
	case classify.StrategyDense:
		return r.cfg.MinScoreDense
	case classify.StrategySparse:
		return r.cfg.MinScoreSparse
	default:
		return r.cfg.MinScoreHybrid
	}
}

// applyRerank hands the top candidates to the router and applies the
// returned order. Router failures never fail the request; they surface
// as degraded markers.
func (r *Retriever) applyRerank(ctx context.Context, q Query, c classify.Classification, results []Result, depth int) []Result {
	if len(results) == 0 {
		return results
	}
	if depth > len(results) {
		depth = len(results)
	}

	head := results[:depth]
	candidates := make([]rerank.Candidate, len(head))
	for i, res := range head {
		candidates[i] = rerank.Candidate{ID: res.ID, Text: res.Payload.Content}
	}

	rr := r.reranker.Rerank(ctx, q.Text, candidates, q.Tier, c, 0)

	if rr.Degraded {
		for i := range results {
			results[i].markDegraded(rr.Reason)
		}
		return results
	}

	reordered := make([]Result, 0, len(results))
	taken := make([]bool, len(head))
	for _, ranked := range rr.Ranked {
		if ranked.Index < 0 || ranked.Index >= len(head) {
			continue
		}
		res := head[ranked.Index]
		score := ranked.Score
		res.RerankScore = &score
		res.TierUsed = rr.Tier
		reordered = append(reordered, res)
		taken[ranked.Index] = true
	}
	// Candidates the ranker dropped keep their pre-rerank order behind
	// the ranked ones.
	for i, res := range head {
		if !taken[i] {
			reordered = append(reordered, res)
		}
	}
	reordered = append(reordered, results[depth:]...)
	return reordered
}

func fromStoreResults(hits []store.SearchResult) []Result {
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{ID: h.ID, Score: h.Score, Payload: h.Payload}
	}
	return out
}

func storeFilter(f Filters) *store.Filter {
	return &store.Filter{
		OrgID:        f.OrgID,
		SessionID:    f.SessionID,
		Type:         f.Type,
		TimeStartMs:  f.TimeStartMs,
		TimeEndMs:    f.TimeEndMs,
		VTEndAfterMs: f.VTEndAfterMs,
	}
}
