package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/memsearch/mem-search/internal/llm"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

const llmRankSystem = "You rank documents by relevance to a query. " +
	"Respond with only a JSON array of objects {\"index\": <int>, \"score\": <float 0..1>}, " +
	"one per document, using the document numbers given."

// LLMRanker asks the LLM provider to score candidates. It is the most
// expensive tier; the router admits it through the rate limiter first.
type LLMRanker struct {
	client llm.Client
}

// NewLLMRanker creates an LLM-backed ranker.
func NewLLMRanker(client llm.Client) *LLMRanker {
	return &LLMRanker{client: client}
}

func (l *LLMRanker) Rank(ctx context.Context, query string, documents []string, topK int) ([]Ranked, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nDocuments:\n", query)
	for i, doc := range documents {
		fmt.Fprintf(&sb, "[%d] %s\n", i, doc)
	}

	resp, err := l.client.Generate(ctx, llm.Request{
		Prompt: sb.String(),
		System: llmRankSystem,
	})
	if err != nil {
		return nil, err
	}

	ranked, err := parseRanking(resp.Content, len(documents))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// parseRanking extracts the JSON array from the model output, tolerating
// surrounding prose or code fences. Out-of-range and duplicate indices
// are dropped.
func parseRanking(content string, docCount int) ([]Ranked, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, apperrors.New(apperrors.CodeLLMError, "llm ranking output contains no JSON array")
	}

	var raw []struct {
		Index int     `json:"index"`
		Score float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, apperrors.LLMError("failed to parse llm ranking output", err)
	}

	seen := make(map[int]bool, len(raw))
	ranked := make([]Ranked, 0, len(raw))
	for _, r := range raw {
		if r.Index < 0 || r.Index >= docCount || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		ranked = append(ranked, Ranked{Index: r.Index, Score: r.Score})
	}

	if len(ranked) == 0 {
		return nil, apperrors.New(apperrors.CodeLLMError, "llm ranking output references no valid documents")
	}
	return ranked, nil
}
