package embed

import (
	"context"
	"math"
	"time"
)

// denseEmbedder produces single dense vectors through the inference
// service, with a layered cache in front.
type denseEmbedder struct {
	client *InferenceClient
	model  string
	dims   int
	cache  Cache
	ttl    time.Duration
}

func newDenseEmbedder(client *InferenceClient, model string, dims int, cache Cache, ttl time.Duration) *denseEmbedder {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &denseEmbedder{client: client, model: model, dims: dims, cache: cache, ttl: ttl}
}

func (e *denseEmbedder) Dimensions() int {
	return e.dims
}

func (e *denseEmbedder) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, isQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *denseEmbedder) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	uncached := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if e.cache != nil {
			if v, ok := e.cache.Get(ctx, cacheKey(e.model, isQuery, text)); ok {
				results[i] = v
				continue
			}
		}
		uncached = append(uncached, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	if len(uncachedTexts) > 0 {
		embeddings, err := e.client.EmbedDense(ctx, e.model, uncachedTexts, isQuery)
		if err != nil {
			return nil, err
		}

		for i, idx := range uncached {
			results[idx] = embeddings[i]
			if e.cache != nil {
				e.cache.Set(ctx, cacheKey(e.model, isQuery, uncachedTexts[i]), embeddings[i], e.ttl)
			}
		}
	}

	return results, nil
}

func (e *denseEmbedder) Load(ctx context.Context) error {
	return e.client.LoadModel(ctx, e.model)
}

func (e *denseEmbedder) Unload() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.client.UnloadModel(ctx, e.model)
}

// l2Normalize normalizes a vector to unit length.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = x / norm
	}

	return result
}
