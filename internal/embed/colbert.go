package embed

import (
	"context"
	"time"
)

// colbertEmbedder produces token-level vectors for late-interaction
// scoring. Embed and EmbedBatch average the token vectors into one
// normalized embedding, which keeps the Embedder contract but loses the
// per-token structure; callers that score with MaxSim must use
// EmbedQuery and EmbedDocument.
type colbertEmbedder struct {
	client *InferenceClient
	model  string
	dims   int
}

func newColbertEmbedder(client *InferenceClient, model string, dims int) *colbertEmbedder {
	return &colbertEmbedder{client: client, model: model, dims: dims}
}

func (e *colbertEmbedder) Dimensions() int {
	return e.dims
}

func (e *colbertEmbedder) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, isQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *colbertEmbedder) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	multi, err := e.client.EmbedMulti(ctx, e.model, texts, isQuery)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(multi))
	for i, tokens := range multi {
		out[i] = averageVectors(tokens, e.dims)
	}
	return out, nil
}

func (e *colbertEmbedder) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	multi, err := e.client.EmbedMulti(ctx, e.model, []string{text}, true)
	if err != nil {
		return nil, err
	}
	return multi[0], nil
}

func (e *colbertEmbedder) EmbedDocument(ctx context.Context, text string) ([][]float32, error) {
	multi, err := e.client.EmbedMulti(ctx, e.model, []string{text}, false)
	if err != nil {
		return nil, err
	}
	return multi[0], nil
}

func (e *colbertEmbedder) EmbedDocumentBatch(ctx context.Context, texts []string) ([][][]float32, error) {
	return e.client.EmbedMulti(ctx, e.model, texts, false)
}

func (e *colbertEmbedder) Load(ctx context.Context) error {
	return e.client.LoadModel(ctx, e.model)
}

func (e *colbertEmbedder) Unload() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.client.UnloadModel(ctx, e.model)
}

// averageVectors mean-pools token vectors and L2 normalizes the result.
func averageVectors(tokens [][]float32, dims int) []float32 {
	out := make([]float32, dims)
	if len(tokens) == 0 {
		return out
	}

	for _, tok := range tokens {
		for i := 0; i < len(tok) && i < dims; i++ {
			out[i] += tok[i]
		}
	}

	n := float32(len(tokens))
	for i := range out {
		out[i] /= n
	}

	return l2Normalize(out)
}
