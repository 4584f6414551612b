package rerank

import (
	"context"

	"github.com/memsearch/mem-search/internal/embed"
)

// CrossEncoder ranks with a cross-encoder model on the inference
// service. The fast, accurate, and code tiers are all instances of this
// type with different models.
type CrossEncoder struct {
	client *embed.InferenceClient
	model  string
}

// NewCrossEncoder creates a cross-encoder ranker for one model.
func NewCrossEncoder(client *embed.InferenceClient, model string) *CrossEncoder {
	return &CrossEncoder{client: client, model: model}
}

func (c *CrossEncoder) Rank(ctx context.Context, query string, documents []string, topK int) ([]Ranked, error) {
	results, err := c.client.Rerank(ctx, c.model, query, documents, topK)
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, len(results))
	for i, r := range results {
		ranked[i] = Ranked{Index: r.Index, Score: r.Score}
	}
	return ranked, nil
}
