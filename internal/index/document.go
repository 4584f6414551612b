// Package index turns memory documents into multi-vector points and
// writes them to the store. Documents arrive through a size and time
// triggered batch queue so embedding and upserts run over batches.
package index

// Document is one memory item waiting to be indexed.
type Document struct {
	// ID is the point identifier (UUID).
	ID string

	// Content is the text to embed and store.
	Content string

	// OrgID is the owning tenant. Required on every document.
	OrgID string

	// SessionID ties the document to a conversation session.
	SessionID string

	// Type is the memory type tag (observation, summary, ...).
	Type string

	// CreatedAtMs is the creation instant in epoch milliseconds.
	// Zero means "now" at indexing time.
	CreatedAtMs int64

	// Metadata carries producer-supplied fields verbatim.
	Metadata map[string]any
}
