// Package embed generates dense, sparse, and late-interaction embeddings
// by calling a remote model-inference service. Models are loaded lazily
// through the Registry and results are cached.
package embed

import (
	"context"
)

// Capability identifies one embedding model slot in the registry.
type Capability string

const (
	CapabilityText    Capability = "text"
	CapabilityCode    Capability = "code"
	CapabilitySparse  Capability = "sparse"
	CapabilityColbert Capability = "colbert"
)

// Embedder generates dense embeddings from text.
type Embedder interface {
	// Dimensions returns the embedding dimension.
	Dimensions() int

	// Embed generates a single embedding. isQuery selects the query-side
	// instruction prefix on asymmetric models.
	Embed(ctx context.Context, text string, isQuery bool) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error)

	// Load makes the model ready for inference.
	Load(ctx context.Context) error

	// Unload releases the model.
	Unload() error
}

// SparseVector is a token-index to weight mapping.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// SparseEmbedder generates lexical sparse vectors (SPLADE style).
type SparseEmbedder interface {
	EmbedSparse(ctx context.Context, text string) (SparseVector, error)
	EmbedSparseBatch(ctx context.Context, texts []string) ([]SparseVector, error)

	Load(ctx context.Context) error
	Unload() error
}

// LateInteractionEmbedder produces per-token vectors for MaxSim scoring.
// It also satisfies Embedder by averaging token vectors into a single
// embedding, so callers that only need a dense vector can use it directly.
type LateInteractionEmbedder interface {
	Embedder

	// EmbedQuery returns token-level vectors for a query.
	EmbedQuery(ctx context.Context, text string) ([][]float32, error)

	// EmbedDocument returns token-level vectors for a document.
	EmbedDocument(ctx context.Context, text string) ([][]float32, error)

	// EmbedDocumentBatch returns token-level vectors for multiple
	// documents in one call.
	EmbedDocumentBatch(ctx context.Context, texts []string) ([][][]float32, error)
}
