// Package store provides a wrapper around the Qdrant Go client
// with simplified APIs for memory retrieval and indexing.
package store

// Vector names declared on the collections. A point must carry exactly the
// vectors its target collection declares.
const (
	VectorTextDense = "text_dense"
	VectorCodeDense = "code_dense"
	VectorSparse    = "sparse"
	VectorColbert   = "colbert"
)

// Default collection names (prefixed on the wire).
const (
	CollectionMemories = "memories"
	CollectionSessions = "sessions"
	CollectionTurns    = "turns"
)

// CollectionConfig defines the schema for creating a collection.
type CollectionConfig struct {
	// Name is the collection name (will be prefixed).
	Name string

	// TextDenseSize is the dimension of the text_dense vector (0 disables it).
	TextDenseSize uint64

	// CodeDenseSize is the dimension of the code_dense vector (0 disables it).
	CodeDenseSize uint64

	// ColbertSize is the per-token dimension of the colbert multi-vector
	// (0 disables the field; the collection schema differs when disabled).
	ColbertSize uint64

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool
}

// SparseVector is a token-index to weight mapping in Qdrant wire form.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Point represents a point to upsert.
type Point struct {
	// ID is the unique point identifier (UUID).
	ID string

	// TextDense is the semantic embedding (optional per schema).
	TextDense []float32

	// CodeDense is the code embedding (optional per schema).
	CodeDense []float32

	// Sparse is the lexical vector.
	Sparse SparseVector

	// Colbert holds token-level vectors for late interaction (optional).
	Colbert [][]float32

	// Payload is the metadata associated with this point.
	Payload Payload
}

// Payload contains the searchable metadata for a memory item.
type Payload struct {
	Content     string         `json:"content"`
	OrgID       string         `json:"org_id"`
	SessionID   string         `json:"session_id,omitempty"`
	Type        string         `json:"type,omitempty"`
	CreatedAtMs int64          `json:"created_at_ms,omitempty"`
	VTEndMs     int64          `json:"vt_end_ms,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Topics      []string       `json:"topics,omitempty"`
	Entities    []string       `json:"entities,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Filter defines payload filter conditions for search.
type Filter struct {
	// OrgID scopes the search to one tenant. Always required.
	OrgID string

	// SessionID filters to a single session.
	SessionID string

	// Type filters by memory type tag.
	Type string

	// TimeStartMs / TimeEndMs bound created_at_ms (0 = unbounded).
	TimeStartMs int64
	TimeEndMs   int64

	// VTEndAfterMs keeps only items whose vt_end_ms is at or after this
	// epoch-ms instant (0 = no constraint).
	VTEndAfterMs int64
}

// SearchRequest defines parameters for a single-vector search.
type SearchRequest struct {
	// Dense is the query vector for a dense search.
	Dense []float32

	// Using selects the dense vector name (text_dense or code_dense).
	Using string

	// Sparse is the query vector for a sparse search.
	Sparse *SparseVector

	// Limit is the maximum number of results to return.
	Limit uint64

	// Filter constrains the search to matching payloads.
	Filter *Filter

	// ScoreThreshold drops results below this score.
	ScoreThreshold *float32
}

// SearchResult represents a single search result.
type SearchResult struct {
	// ID is the point identifier.
	ID string

	// Score is the relevance score.
	Score float32

	// Payload contains the point metadata.
	Payload Payload
}

// CollectionInfo contains information about a collection.
type CollectionInfo struct {
	// Name is the collection name (without prefix).
	Name string

	// PointsCount is the total number of points.
	PointsCount uint64

	// Status is the collection health status.
	Status string
}
