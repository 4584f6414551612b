package rerank

import (
	"context"
	"sort"

	"github.com/memsearch/mem-search/internal/embed"
)

// ColbertRanker scores documents with late-interaction MaxSim: each
// query token contributes its best dot product against the document's
// token vectors, summed over query tokens.
type ColbertRanker struct {
	embedder embed.LateInteractionEmbedder
}

// NewColbertRanker creates a MaxSim ranker on top of a late-interaction
// embedder.
func NewColbertRanker(embedder embed.LateInteractionEmbedder) *ColbertRanker {
	return &ColbertRanker{embedder: embedder}
}

func (c *ColbertRanker) Rank(ctx context.Context, query string, documents []string, topK int) ([]Ranked, error) {
	queryVecs, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, 0, len(documents))
	for i, doc := range documents {
		docVecs, err := c.embedder.EmbedDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Ranked{Index: i, Score: maxSim(queryVecs, docVecs)})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// maxSim sums, over query tokens, the best dot product against any
// document token.
func maxSim(queryVecs, docVecs [][]float32) float32 {
	var total float32
	for _, q := range queryVecs {
		var best float32
		for i, d := range docVecs {
			s := dot(q, d)
			if i == 0 || s > best {
				best = s
			}
		}
		total += best
	}
	return total
}

func dot(a, b []float32) float32 {
	n := min(len(a), len(b))
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
