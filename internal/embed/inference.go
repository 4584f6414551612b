package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

const (
	defaultInferenceTimeout = 30 * time.Second
	defaultBatchSize        = 32
)

// InferenceConfig holds settings for the model-inference HTTP service.
type InferenceConfig struct {
	// BaseURL is the inference service root, e.g. http://localhost:8090.
	BaseURL string

	// Timeout for a single inference call.
	Timeout time.Duration

	// BatchSize caps texts per request; larger inputs are split.
	BatchSize int
}

// InferenceClient is the HTTP transport shared by all embedders.
type InferenceClient struct {
	cfg  InferenceConfig
	http *http.Client
	log  *logger.Logger
}

// NewInferenceClient creates a client for the inference service.
func NewInferenceClient(cfg InferenceConfig, log *logger.Logger) *InferenceClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultInferenceTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	return &InferenceClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.WithComponent("inference"),
	}
}

type embedRequest struct {
	Model   string   `json:"model"`
	Texts   []string `json:"texts"`
	IsQuery bool     `json:"is_query"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

type sparseResponse struct {
	Vectors []struct {
		Indices []uint32  `json:"indices"`
		Values  []float32 `json:"values"`
	} `json:"vectors"`
}

type multiResponse struct {
	MultiVectors [][][]float32 `json:"multi_vectors"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []RankedDocument `json:"results"`
}

// RankedDocument is one cross-encoder score, referencing the input
// document by position.
type RankedDocument struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// EmbedDense calls the dense embedding endpoint, splitting into batches.
func (c *InferenceClient) EmbedDense(ctx context.Context, model string, texts []string, isQuery bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))

		var resp embedResponse
		err := c.post(ctx, "/embed", embedRequest{Model: model, Texts: texts[start:end], IsQuery: isQuery}, &resp)
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, apperrors.New(apperrors.CodeEmbedderError,
				fmt.Sprintf("expected %d embeddings, got %d", end-start, len(resp.Embeddings)))
		}

		all = append(all, resp.Embeddings...)
	}

	return all, nil
}

// EmbedSparse calls the sparse encoding endpoint.
func (c *InferenceClient) EmbedSparse(ctx context.Context, model string, texts []string) ([]SparseVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([]SparseVector, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))

		var resp sparseResponse
		err := c.post(ctx, "/embed/sparse", embedRequest{Model: model, Texts: texts[start:end]}, &resp)
		if err != nil {
			return nil, err
		}
		if len(resp.Vectors) != end-start {
			return nil, apperrors.New(apperrors.CodeEmbedderError,
				fmt.Sprintf("expected %d sparse vectors, got %d", end-start, len(resp.Vectors)))
		}

		for _, v := range resp.Vectors {
			all = append(all, SparseVector{Indices: v.Indices, Values: v.Values})
		}
	}

	return all, nil
}

// EmbedMulti calls the late-interaction endpoint and returns per-token
// vectors for each text.
func (c *InferenceClient) EmbedMulti(ctx context.Context, model string, texts []string, isQuery bool) ([][][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))

		var resp multiResponse
		err := c.post(ctx, "/embed/multi", embedRequest{Model: model, Texts: texts[start:end], IsQuery: isQuery}, &resp)
		if err != nil {
			return nil, err
		}
		if len(resp.MultiVectors) != end-start {
			return nil, apperrors.New(apperrors.CodeEmbedderError,
				fmt.Sprintf("expected %d multi-vectors, got %d", end-start, len(resp.MultiVectors)))
		}

		all = append(all, resp.MultiVectors...)
	}

	return all, nil
}

// Rerank scores documents against a query with a cross-encoder model.
// Results come back sorted by score descending, at most topK of them
// (0 means all).
func (c *InferenceClient) Rerank(ctx context.Context, model, query string, documents []string, topK int) ([]RankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	var resp rerankResponse
	err := c.post(ctx, "/rerank", rerankRequest{Model: model, Query: query, Documents: documents, TopK: topK}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Results, nil
}

// LoadModel asks the inference service to load a model into memory.
func (c *InferenceClient) LoadModel(ctx context.Context, model string) error {
	return c.post(ctx, "/models/load", modelRequest{Model: model}, nil)
}

// UnloadModel asks the inference service to release a model.
func (c *InferenceClient) UnloadModel(ctx context.Context, model string) error {
	return c.post(ctx, "/models/unload", modelRequest{Model: model}, nil)
}

func (c *InferenceClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.EmbedderError("failed to encode inference request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.EmbedderError("failed to build inference request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.EmbedderError("inference request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Error("inference service error", "path", path, "status", resp.StatusCode, "body", string(b))
		return apperrors.New(apperrors.CodeEmbedderError,
			fmt.Sprintf("inference service returned status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.EmbedderError("failed to decode inference response", err)
	}

	return nil
}
