package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/llm"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/search/fusion"
)

const reasonExpansionFailed = "expansion_failed"

const expandSystem = "You rewrite search queries to improve recall. " +
	"Respond with only a JSON array of strings."

// Searcher is the single-query capability multi-query expands over. The
// Retriever implements it.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Usage accumulates LLM token and cost accounting across expansions.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	CostCents        int64 `json:"cost_cents"`
	Expansions       int   `json:"expansions"`
}

// MultiQueryRetriever expands a query into LLM-generated variants, runs
// each through the underlying retriever, and fuses the result sets.
type MultiQueryRetriever struct {
	cfg   config.SearchConfig
	inner Searcher
	llm   llm.Client
	log   *logger.Logger

	mu    sync.Mutex
	usage Usage
}

// NewMultiQueryRetriever creates a multi-query retriever.
func NewMultiQueryRetriever(cfg config.SearchConfig, inner Searcher, client llm.Client, log *logger.Logger) *MultiQueryRetriever {
	if cfg.MultiQueryVariants <= 0 {
		cfg.MultiQueryVariants = 3
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = fusion.DefaultK
	}

	return &MultiQueryRetriever{
		cfg:   cfg,
		inner: inner,
		llm:   client,
		log:   log.WithComponent("multiquery"),
	}
}

// Search expands the query and fuses the per-variant result sets. A
// failed expansion falls back to the original query alone with results
// marked degraded; failed variant searches are absorbed.
func (m *MultiQueryRetriever) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Filters.OrgID == "" {
		return nil, apperrors.TenantMissingError()
	}

	variants, err := m.expand(ctx, q.Text)
	if err != nil {
		m.log.Warn("query expansion failed, falling back to original", "error", err)
		results, serr := m.inner.Search(ctx, q)
		if serr != nil {
			return nil, serr
		}
		for i := range results {
			results[i].markDegraded(reasonExpansionFailed)
		}
		return results, nil
	}

	// The original query always participates.
	variants = append(variants, q.Text)

	lists := make([][]Result, len(variants))
	errs := make([]error, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			vq := q
			vq.Text = variant
			vq.Rerank = false
			lists[i], errs[i] = m.inner.Search(gctx, vq)
			return nil
		})
	}
	g.Wait()

	var succeeded [][]Result
	for i, list := range lists {
		if errs[i] != nil {
			m.log.Warn("variant search failed", "variant", variants[i], "error", errs[i])
			continue
		}
		succeeded = append(succeeded, list)
	}
	if len(succeeded) == 0 {
		// errs is non-empty here: every variant failed.
		return nil, errs[len(errs)-1]
	}

	fused := m.fuse(succeeded)

	limit := q.Limit
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// GetUsage returns a snapshot of accumulated LLM usage.
func (m *MultiQueryRetriever) GetUsage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// ResetUsage clears the accumulated usage.
func (m *MultiQueryRetriever) ResetUsage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = Usage{}
}

// expand asks the LLM for reformulations of the query.
func (m *MultiQueryRetriever) expand(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Rewrite this search query %d ways: one close paraphrase, one keyword-only form, "+
			"one step-back generalization. Query: %s",
		m.cfg.MultiQueryVariants, text)

	resp, err := m.llm.Generate(ctx, llm.Request{Prompt: prompt, System: expandSystem})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.usage.PromptTokens += resp.PromptTokens
	m.usage.CompletionTokens += resp.CompletionTokens
	m.usage.TotalTokens += resp.TotalTokens
	m.usage.CostCents += resp.CostCents
	m.usage.Expansions++
	m.mu.Unlock()

	variants, err := parseVariants(resp.Content, m.cfg.MultiQueryVariants)
	if err != nil {
		return nil, err
	}
	return variants, nil
}

// parseVariants extracts the JSON string array from the model output,
// dropping empties and capping at maxVariants.
func parseVariants(content string, maxVariants int) ([]string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, apperrors.New(apperrors.CodeParseError, "expansion output contains no JSON array")
	}

	var raw []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to parse expansion output", err)
	}

	variants := make([]string, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		variants = append(variants, v)
		if len(variants) == maxVariants {
			break
		}
	}
	if len(variants) == 0 {
		return nil, apperrors.New(apperrors.CodeParseError, "expansion produced no variants")
	}
	return variants, nil
}

// fuse merges the per-variant lists by RRF on effective score order.
func (m *MultiQueryRetriever) fuse(lists [][]Result) []Result {
	byID := make(map[string]Result)
	entries := make([][]fusion.Entry, len(lists))
	for i, list := range lists {
		entries[i] = make([]fusion.Entry, len(list))
		for j, res := range list {
			entries[i][j] = fusion.Entry{ID: res.ID, Score: res.Score}
			if _, ok := byID[res.ID]; !ok {
				byID[res.ID] = res
			}
		}
	}

	fused := fusion.Fuse(m.cfg.RRFK, entries...)

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
