package index

import (
	"context"
	"time"

	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/embed"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/store"
)

// EmbedderSource hands out the embedders the indexer needs. The embed
// registry implements it.
type EmbedderSource interface {
	Text(ctx context.Context) (embed.Embedder, error)
	Code(ctx context.Context) (embed.Embedder, error)
	Sparse(ctx context.Context) (embed.SparseEmbedder, error)
	Colbert(ctx context.Context) (embed.LateInteractionEmbedder, error)
}

// Upserter is the store capability the indexer consumes.
type Upserter interface {
	UpsertPoints(ctx context.Context, collection string, points []store.Point) error
}

// Indexer embeds document batches across all enabled vector spaces and
// upserts the assembled points in a single call.
type Indexer struct {
	collection    string
	enableColbert bool
	embedders     EmbedderSource
	store         Upserter
	log           *logger.Logger
	now           func() time.Time
}

// NewIndexer creates an indexer writing to the given collection.
func NewIndexer(collection string, cfg config.EmbedConfig, embedders EmbedderSource, upserter Upserter, log *logger.Logger) *Indexer {
	return &Indexer{
		collection:    collection,
		enableColbert: cfg.EnableColbert,
		embedders:     embedders,
		store:         upserter,
		log:           log.WithComponent("indexer"),
		now:           time.Now,
	}
}

// IndexBatch embeds and upserts one batch. It returns the number of
// points written. Any embedding or upsert failure fails the whole
// batch; nothing is partially written.
func (ix *Indexer) IndexBatch(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.OrgID == "" {
			return 0, apperrors.TenantMissingError().WithDetail("document_id", doc.ID)
		}
		if doc.ID == "" || doc.Content == "" {
			return 0, apperrors.ValidationError("document requires id and content")
		}
		texts[i] = doc.Content
	}

	dense, err := ix.embedDense(ctx, texts)
	if err != nil {
		return 0, err
	}

	// Every point carries both dense spaces; queries pick one at
	// search time based on their classification.
	code, err := ix.embedCode(ctx, texts)
	if err != nil {
		return 0, err
	}

	sparse, err := ix.embedSparse(ctx, texts)
	if err != nil {
		return 0, err
	}

	var colbert [][][]float32
	if ix.enableColbert {
		colbert, err = ix.embedColbert(ctx, texts)
		if err != nil {
			return 0, err
		}
	}

	nowMs := ix.now().UnixMilli()
	points := make([]store.Point, len(docs))
	for i, doc := range docs {
		createdAt := doc.CreatedAtMs
		if createdAt == 0 {
			createdAt = nowMs
		}

		points[i] = store.Point{
			ID:        doc.ID,
			TextDense: dense[i],
			CodeDense: code[i],
			Sparse:    store.SparseVector{Indices: sparse[i].Indices, Values: sparse[i].Values},
			Payload: store.Payload{
				Content:     doc.Content,
				OrgID:       doc.OrgID,
				SessionID:   doc.SessionID,
				Type:        doc.Type,
				CreatedAtMs: createdAt,
				Metadata:    doc.Metadata,
			},
		}
		if colbert != nil {
			points[i].Colbert = colbert[i]
		}
	}

	if err := ix.store.UpsertPoints(ctx, ix.collection, points); err != nil {
		return 0, err
	}

	ix.log.Info("batch indexed", "collection", ix.collection, "points", len(points))
	return len(points), nil
}

func (ix *Indexer) embedDense(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, err := ix.embedders.Text(ctx)
	if err != nil {
		return nil, err
	}
	return embedder.EmbedBatch(ctx, texts, false)
}

func (ix *Indexer) embedCode(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, err := ix.embedders.Code(ctx)
	if err != nil {
		return nil, err
	}
	return embedder.EmbedBatch(ctx, texts, false)
}

func (ix *Indexer) embedSparse(ctx context.Context, texts []string) ([]embed.SparseVector, error) {
	embedder, err := ix.embedders.Sparse(ctx)
	if err != nil {
		return nil, err
	}
	return embedder.EmbedSparseBatch(ctx, texts)
}

func (ix *Indexer) embedColbert(ctx context.Context, texts []string) ([][][]float32, error) {
	embedder, err := ix.embedders.Colbert(ctx)
	if err != nil {
		return nil, err
	}
	return embedder.EmbedDocumentBatch(ctx, texts)
}
