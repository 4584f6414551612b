package embed

import (
	"context"
	"sync"
	"time"

	"github.com/memsearch/mem-search/internal/config"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

// Registry hands out embedders by capability. Models are loaded on first
// use; each capability has its own lock so loading one model never
// blocks callers of another.
type Registry struct {
	cfg    config.EmbedConfig
	client *InferenceClient
	cache  Cache
	ttl    time.Duration
	log    *logger.Logger

	locks map[Capability]*sync.Mutex

	text    Embedder
	code    Embedder
	sparse  SparseEmbedder
	colbert LateInteractionEmbedder
}

// NewRegistry creates a registry. cache may be nil to disable caching.
func NewRegistry(client *InferenceClient, cfg config.EmbedConfig, cache Cache, cacheTTL time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		client: client,
		cache:  cache,
		ttl:    cacheTTL,
		log:    log.WithComponent("embed"),
		locks: map[Capability]*sync.Mutex{
			CapabilityText:    {},
			CapabilityCode:    {},
			CapabilitySparse:  {},
			CapabilityColbert: {},
		},
	}
}

// Text returns the text embedder, loading the model on first use.
func (r *Registry) Text(ctx context.Context) (Embedder, error) {
	r.locks[CapabilityText].Lock()
	defer r.locks[CapabilityText].Unlock()

	if r.text != nil {
		return r.text, nil
	}

	e := newDenseEmbedder(r.client, r.cfg.TextModel, r.cfg.TextDim, r.cache, r.ttl)
	if err := e.Load(ctx); err != nil {
		return nil, apperrors.EmbedderError("failed to load text model "+r.cfg.TextModel, err)
	}

	r.log.Info("loaded embedding model", "capability", CapabilityText, "model", r.cfg.TextModel)
	r.text = e
	return e, nil
}

// Code returns the code embedder, loading the model on first use.
func (r *Registry) Code(ctx context.Context) (Embedder, error) {
	r.locks[CapabilityCode].Lock()
	defer r.locks[CapabilityCode].Unlock()

	if r.code != nil {
		return r.code, nil
	}

	e := newDenseEmbedder(r.client, r.cfg.CodeModel, r.cfg.CodeDim, r.cache, r.ttl)
	if err := e.Load(ctx); err != nil {
		return nil, apperrors.EmbedderError("failed to load code model "+r.cfg.CodeModel, err)
	}

	r.log.Info("loaded embedding model", "capability", CapabilityCode, "model", r.cfg.CodeModel)
	r.code = e
	return e, nil
}

// Sparse returns the sparse encoder, loading the model on first use.
func (r *Registry) Sparse(ctx context.Context) (SparseEmbedder, error) {
	r.locks[CapabilitySparse].Lock()
	defer r.locks[CapabilitySparse].Unlock()

	if r.sparse != nil {
		return r.sparse, nil
	}

	e := newSparseEmbedder(r.client, r.cfg.SparseModel)
	if err := e.Load(ctx); err != nil {
		return nil, apperrors.EmbedderError("failed to load sparse model "+r.cfg.SparseModel, err)
	}

	r.log.Info("loaded embedding model", "capability", CapabilitySparse, "model", r.cfg.SparseModel)
	r.sparse = e
	return e, nil
}

// Colbert returns the late-interaction embedder. Returns an error when
// the colbert field is disabled by configuration.
func (r *Registry) Colbert(ctx context.Context) (LateInteractionEmbedder, error) {
	if !r.cfg.EnableColbert {
		return nil, apperrors.New(apperrors.CodeEmbedderError, "colbert embedding is disabled")
	}

	r.locks[CapabilityColbert].Lock()
	defer r.locks[CapabilityColbert].Unlock()

	if r.colbert != nil {
		return r.colbert, nil
	}

	e := newColbertEmbedder(r.client, r.cfg.ColbertModel, r.cfg.ColbertDim)
	if err := e.Load(ctx); err != nil {
		return nil, apperrors.EmbedderError("failed to load colbert model "+r.cfg.ColbertModel, err)
	}

	r.log.Info("loaded embedding model", "capability", CapabilityColbert, "model", r.cfg.ColbertModel)
	r.colbert = e
	return e, nil
}

// LazyColbert returns a late-interaction embedder that resolves the
// real model through the registry on each call. It lets consumers hold
// a stable reference before the model has loaded.
func (r *Registry) LazyColbert() LateInteractionEmbedder {
	return &lazyColbert{registry: r}
}

type lazyColbert struct {
	registry *Registry
}

func (l *lazyColbert) Dimensions() int {
	return l.registry.cfg.ColbertDim
}

func (l *lazyColbert) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	e, err := l.registry.Colbert(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text, isQuery)
}

func (l *lazyColbert) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	e, err := l.registry.Colbert(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts, isQuery)
}

func (l *lazyColbert) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	e, err := l.registry.Colbert(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedQuery(ctx, text)
}

func (l *lazyColbert) EmbedDocument(ctx context.Context, text string) ([][]float32, error) {
	e, err := l.registry.Colbert(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedDocument(ctx, text)
}

func (l *lazyColbert) EmbedDocumentBatch(ctx context.Context, texts []string) ([][][]float32, error) {
	e, err := l.registry.Colbert(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedDocumentBatch(ctx, texts)
}

func (l *lazyColbert) Load(ctx context.Context) error {
	_, err := l.registry.Colbert(ctx)
	return err
}

// Unload is a no-op; the registry owns the model lifecycle.
func (l *lazyColbert) Unload() error {
	return nil
}

// Preload eagerly loads every enabled model. A model that fails to load
// is logged and skipped so the rest still come up; the last failure is
// returned. Failed capabilities retry on first use.
func (r *Registry) Preload(ctx context.Context) error {
	var lastErr error

	if _, err := r.Text(ctx); err != nil {
		r.log.Error("preload failed", "capability", CapabilityText, "error", err)
		lastErr = err
	}
	if _, err := r.Code(ctx); err != nil {
		r.log.Error("preload failed", "capability", CapabilityCode, "error", err)
		lastErr = err
	}
	if _, err := r.Sparse(ctx); err != nil {
		r.log.Error("preload failed", "capability", CapabilitySparse, "error", err)
		lastErr = err
	}
	if r.cfg.EnableColbert {
		if _, err := r.Colbert(ctx); err != nil {
			r.log.Error("preload failed", "capability", CapabilityColbert, "error", err)
			lastErr = err
		}
	}

	return lastErr
}

// Close unloads every loaded model.
func (r *Registry) Close() error {
	var lastErr error

	for capability, unload := range map[Capability]func() error{
		CapabilityText:    r.unloadText,
		CapabilityCode:    r.unloadCode,
		CapabilitySparse:  r.unloadSparse,
		CapabilityColbert: r.unloadColbert,
	} {
		if err := unload(); err != nil {
			r.log.Error("failed to unload model", "capability", capability, "error", err)
			lastErr = err
		}
	}

	return lastErr
}

func (r *Registry) unloadText() error {
	r.locks[CapabilityText].Lock()
	defer r.locks[CapabilityText].Unlock()
	if r.text == nil {
		return nil
	}
	err := r.text.Unload()
	r.text = nil
	return err
}

func (r *Registry) unloadCode() error {
	r.locks[CapabilityCode].Lock()
	defer r.locks[CapabilityCode].Unlock()
	if r.code == nil {
		return nil
	}
	err := r.code.Unload()
	r.code = nil
	return err
}

func (r *Registry) unloadSparse() error {
	r.locks[CapabilitySparse].Lock()
	defer r.locks[CapabilitySparse].Unlock()
	if r.sparse == nil {
		return nil
	}
	err := r.sparse.Unload()
	r.sparse = nil
	return err
}

func (r *Registry) unloadColbert() error {
	r.locks[CapabilityColbert].Lock()
	defer r.locks[CapabilityColbert].Unlock()
	if r.colbert == nil {
		return nil
	}
	err := r.colbert.Unload()
	r.colbert = nil
	return err
}
