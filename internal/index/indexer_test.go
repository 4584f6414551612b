package index

import (
	"context"
	"sync"
	"testing"

	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/embed"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/store"
)

type fakeDense struct{ err error }

func (f *fakeDense) Dimensions() int { return 2 }

func (f *fakeDense) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text}, isQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeDense) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeDense) Load(ctx context.Context) error { return nil }
func (f *fakeDense) Unload() error                  { return nil }

type fakeSparse struct{ err error }

func (f *fakeSparse) EmbedSparse(ctx context.Context, text string) (embed.SparseVector, error) {
	vecs, err := f.EmbedSparseBatch(ctx, []string{text})
	if err != nil {
		return embed.SparseVector{}, err
	}
	return vecs[0], nil
}

func (f *fakeSparse) EmbedSparseBatch(ctx context.Context, texts []string) ([]embed.SparseVector, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]embed.SparseVector, len(texts))
	for i := range texts {
		out[i] = embed.SparseVector{Indices: []uint32{uint32(i)}, Values: []float32{0.5}}
	}
	return out, nil
}

func (f *fakeSparse) Load(ctx context.Context) error { return nil }
func (f *fakeSparse) Unload() error                  { return nil }

type fakeColbert struct {
	fakeDense
	calls int
}

func (f *fakeColbert) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	return [][]float32{{1, 0}}, nil
}

func (f *fakeColbert) EmbedDocument(ctx context.Context, text string) ([][]float32, error) {
	return [][]float32{{1, 0}}, nil
}

func (f *fakeColbert) EmbedDocumentBatch(ctx context.Context, texts []string) ([][][]float32, error) {
	f.calls++
	out := make([][][]float32, len(texts))
	for i := range texts {
		out[i] = [][]float32{{1, 0}, {0, 1}}
	}
	return out, nil
}

type fakeSource struct {
	dense   *fakeDense
	code    *fakeDense
	sparse  *fakeSparse
	colbert *fakeColbert
}

func (f *fakeSource) Text(ctx context.Context) (embed.Embedder, error) { return f.dense, nil }

func (f *fakeSource) Code(ctx context.Context) (embed.Embedder, error) { return f.code, nil }

func (f *fakeSource) Sparse(ctx context.Context) (embed.SparseEmbedder, error) {
	return f.sparse, nil
}

func (f *fakeSource) Colbert(ctx context.Context) (embed.LateInteractionEmbedder, error) {
	return f.colbert, nil
}

type fakeUpserter struct {
	mu         sync.Mutex
	err        error
	collection string
	points     []store.Point
	calls      int
}

func (f *fakeUpserter) UpsertPoints(ctx context.Context, collection string, points []store.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.collection = collection
	f.points = points
	return f.err
}

func newTestIndexer(colbert bool, src *fakeSource, up *fakeUpserter) *Indexer {
	cfg := config.EmbedConfig{EnableColbert: colbert}
	return NewIndexer(store.CollectionMemories, cfg, src, up, logger.Default())
}

func indexDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			ID:        string(rune('a' + i)),
			Content:   "memory content",
			OrgID:     "o1",
			SessionID: "s1",
		}
	}
	return docs
}

func TestIndexBatchUpsertsAllPoints(t *testing.T) {
	src := &fakeSource{dense: &fakeDense{}, code: &fakeDense{}, sparse: &fakeSparse{}, colbert: &fakeColbert{}}
	up := &fakeUpserter{}
	ix := newTestIndexer(true, src, up)

	n, err := ix.IndexBatch(context.Background(), indexDocs(3))
	if err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}
	if n != 3 {
		t.Errorf("indexed = %d, want 3", n)
	}
	if up.calls != 1 {
		t.Errorf("upsert calls = %d, want a single upsert", up.calls)
	}
	if up.collection != store.CollectionMemories {
		t.Errorf("collection = %s", up.collection)
	}

	for _, p := range up.points {
		if p.Payload.OrgID != "o1" {
			t.Errorf("point %s missing tenant id", p.ID)
		}
		if len(p.TextDense) == 0 || len(p.CodeDense) == 0 || len(p.Sparse.Indices) == 0 || len(p.Colbert) == 0 {
			t.Errorf("point %s missing vectors: %+v", p.ID, p)
		}
		if p.Payload.CreatedAtMs == 0 {
			t.Errorf("point %s missing created_at_ms", p.ID)
		}
	}
	if src.colbert.calls != 1 {
		t.Errorf("colbert batch calls = %d, want 1", src.colbert.calls)
	}
}

func TestIndexBatchColbertDisabled(t *testing.T) {
	src := &fakeSource{dense: &fakeDense{}, code: &fakeDense{}, sparse: &fakeSparse{}, colbert: &fakeColbert{}}
	up := &fakeUpserter{}
	ix := newTestIndexer(false, src, up)

	if _, err := ix.IndexBatch(context.Background(), indexDocs(2)); err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}

	for _, p := range up.points {
		if p.Colbert != nil {
			t.Errorf("point %s carries colbert vectors with colbert disabled", p.ID)
		}
	}
	if src.colbert.calls != 0 {
		t.Errorf("colbert embedder called %d times with colbert disabled", src.colbert.calls)
	}
}

func TestIndexBatchEmbeddingFailureFailsBatch(t *testing.T) {
	src := &fakeSource{
		dense:   &fakeDense{err: apperrors.EmbedderError("inference down", nil)},
		code:    &fakeDense{},
		sparse:  &fakeSparse{},
		colbert: &fakeColbert{},
	}
	up := &fakeUpserter{}
	ix := newTestIndexer(true, src, up)

	n, err := ix.IndexBatch(context.Background(), indexDocs(2))
	if !apperrors.IsCode(err, apperrors.CodeEmbedderError) {
		t.Fatalf("expected EMBEDDER_ERROR, got %v", err)
	}
	if n != 0 || up.calls != 0 {
		t.Errorf("failed batch must write nothing: n=%d upserts=%d", n, up.calls)
	}
}

func TestIndexBatchCodeEmbeddingFailureFailsBatch(t *testing.T) {
	src := &fakeSource{
		dense:   &fakeDense{},
		code:    &fakeDense{err: apperrors.EmbedderError("code model down", nil)},
		sparse:  &fakeSparse{},
		colbert: &fakeColbert{},
	}
	up := &fakeUpserter{}
	ix := newTestIndexer(false, src, up)

	n, err := ix.IndexBatch(context.Background(), indexDocs(2))
	if !apperrors.IsCode(err, apperrors.CodeEmbedderError) {
		t.Fatalf("expected EMBEDDER_ERROR, got %v", err)
	}
	if n != 0 || up.calls != 0 {
		t.Errorf("failed batch must write nothing: n=%d upserts=%d", n, up.calls)
	}
}

func TestIndexBatchUpsertFailure(t *testing.T) {
	src := &fakeSource{dense: &fakeDense{}, code: &fakeDense{}, sparse: &fakeSparse{}, colbert: &fakeColbert{}}
	up := &fakeUpserter{err: apperrors.StoreError("qdrant down", nil)}
	ix := newTestIndexer(false, src, up)

	n, err := ix.IndexBatch(context.Background(), indexDocs(2))
	if !apperrors.IsCode(err, apperrors.CodeStoreError) {
		t.Fatalf("expected STORE_ERROR, got %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0 on upsert failure", n)
	}
}

func TestIndexBatchRequiresTenant(t *testing.T) {
	src := &fakeSource{dense: &fakeDense{}, code: &fakeDense{}, sparse: &fakeSparse{}, colbert: &fakeColbert{}}
	up := &fakeUpserter{}
	ix := newTestIndexer(false, src, up)

	docs := indexDocs(2)
	docs[1].OrgID = ""

	_, err := ix.IndexBatch(context.Background(), docs)
	if !apperrors.IsTenantMissing(err) {
		t.Fatalf("expected TENANT_MISSING, got %v", err)
	}
	if up.calls != 0 {
		t.Error("nothing may be written when a document lacks a tenant")
	}
}

func TestIndexBatchEmpty(t *testing.T) {
	src := &fakeSource{dense: &fakeDense{}, code: &fakeDense{}, sparse: &fakeSparse{}, colbert: &fakeColbert{}}
	up := &fakeUpserter{}
	ix := newTestIndexer(true, src, up)

	n, err := ix.IndexBatch(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("empty batch: n=%d err=%v", n, err)
	}
	if up.calls != 0 {
		t.Error("empty batch must not touch the store")
	}
}
