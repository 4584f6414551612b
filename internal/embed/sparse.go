package embed

import (
	"context"
	"time"
)

// sparseEmbedder produces lexical sparse vectors through the inference
// service. Sparse vectors are not cached; the encoder is cheap relative
// to dense models and its output does not fit the dense cache encoding.
type sparseEmbedder struct {
	client *InferenceClient
	model  string
}

func newSparseEmbedder(client *InferenceClient, model string) *sparseEmbedder {
	return &sparseEmbedder{client: client, model: model}
}

func (e *sparseEmbedder) EmbedSparse(ctx context.Context, text string) (SparseVector, error) {
	vecs, err := e.EmbedSparseBatch(ctx, []string{text})
	if err != nil {
		return SparseVector{}, err
	}
	return vecs[0], nil
}

func (e *sparseEmbedder) EmbedSparseBatch(ctx context.Context, texts []string) ([]SparseVector, error) {
	return e.client.EmbedSparse(ctx, e.model, texts)
}

func (e *sparseEmbedder) Load(ctx context.Context) error {
	return e.client.LoadModel(ctx, e.model)
}

func (e *sparseEmbedder) Unload() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.client.UnloadModel(ctx, e.model)
}
