// Package server wires the retrieval and indexing services together
// behind the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memsearch/mem-search/internal/bus"
	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/consumer"
	"github.com/memsearch/mem-search/internal/embed"
	"github.com/memsearch/mem-search/internal/index"
	"github.com/memsearch/mem-search/internal/llm"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/ratelimit"
	"github.com/memsearch/mem-search/internal/rerank"
	"github.com/memsearch/mem-search/internal/search"
	"github.com/memsearch/mem-search/internal/store"
)

const (
	throttleRPS   = 50
	throttleBurst = 100
)

// Server owns the HTTP listener and the service graph behind it.
type Server struct {
	cfg     *config.Config
	version string
	log     *logger.Logger

	httpServer *http.Server

	store     *store.Client
	inference *embed.InferenceClient
	registry  *embed.Registry
	limiter   *ratelimit.Limiter
	llm       llm.Client
	router    *rerank.Router
	retriever *search.Retriever
	sessions  *search.SessionRetriever
	multi     *search.MultiQueryRetriever
	queue     *index.Queue
	indexer   *index.Indexer
	status    bus.StatusPublisher
	consumer  *consumer.Consumer

	mu      sync.Mutex
	started bool
}

// New builds the service graph. Nothing touches the network until
// Start.
func New(cfg *config.Config, version string, log *logger.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: version,
		log:     log,
	}

	storeClient, err := store.NewClient(store.ClientConfig{
		Host:    cfg.Qdrant.Host,
		Port:    cfg.Qdrant.Port,
		APIKey:  cfg.Qdrant.APIKey,
		UseTLS:  cfg.Qdrant.UseTLS,
		Prefix:  cfg.Qdrant.CollectionPrefix,
		Timeout: time.Duration(cfg.Qdrant.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("creating store client: %w", err)
	}
	s.store = storeClient

	s.inference = embed.NewInferenceClient(embed.InferenceConfig{
		BaseURL:   cfg.Embed.InferenceURL,
		Timeout:   time.Duration(cfg.Embed.TimeoutMs) * time.Millisecond,
		BatchSize: cfg.Embed.BatchSize,
	}, log)

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	s.registry = embed.NewRegistry(s.inference, cfg.Embed, buildCache(cfg.Cache, cacheTTL, log), cacheTTL, log)

	s.limiter = ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.RequestsPerHour,
		BudgetCents: int64(cfg.RateLimit.BudgetCents),
		Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	})

	s.llm = llm.NewHTTPClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
		MaxRetries: cfg.LLM.MaxRetries,
	}, log)

	s.router = rerank.NewRouter(rerank.Config{
		Timeout:      time.Duration(cfg.Rerank.TimeoutMs) * time.Millisecond,
		LLMTimeout:   time.Duration(cfg.Rerank.LLMTimeoutMs) * time.Millisecond,
		ModerateTier: rerank.Tier(cfg.Rerank.ModerateTier),
		LLMCostCents: int64(cfg.Rerank.LLMCostCents),
	}, s.buildRankers(), s.limiter, log)

	s.retriever = search.NewRetriever(cfg.Search, cfg.Rerank, s.store, s.registry, s.router, log)
	s.sessions = search.NewSessionRetriever(cfg.Search, cfg.Rerank, s.retriever, s.router, log)
	s.multi = search.NewMultiQueryRetriever(cfg.Search, s.retriever, s.llm, log)

	s.indexer = index.NewIndexer(store.CollectionMemories, cfg.Embed, s.registry, s.store, log)
	s.queue = index.NewQueue(cfg.Index, func(ctx context.Context, batch []index.Document) error {
		_, err := s.indexer.IndexBatch(ctx, batch)
		return err
	}, log)

	if brokers := cfg.Consumer.KafkaBrokerList(); len(brokers) > 0 {
		serviceID := serviceInstanceID()
		status, err := bus.NewKafkaStatusBus(bus.KafkaConfig{
			Brokers:  brokers,
			Topic:    cfg.Consumer.StatusTopic,
			ClientID: serviceID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating status bus: %w", err)
		}
		s.status = status
		s.consumer = consumer.New(cfg.Consumer, serviceID, s.queue, status, log)
	} else {
		s.status = bus.NewMemoryStatusBus()
	}

	return s, nil
}

// buildRankers assembles the tier implementations the config enables.
func (s *Server) buildRankers() map[rerank.Tier]rerank.Ranker {
	rankers := map[rerank.Tier]rerank.Ranker{
		rerank.TierFast:     rerank.NewCrossEncoder(s.inference, s.cfg.Rerank.FastModel),
		rerank.TierAccurate: rerank.NewCrossEncoder(s.inference, s.cfg.Rerank.AccurateModel),
		rerank.TierCode:     rerank.NewCrossEncoder(s.inference, s.cfg.Rerank.CodeModel),
		rerank.TierLLM:      rerank.NewLLMRanker(s.llm),
	}
	if s.cfg.Embed.EnableColbert {
		rankers[rerank.TierColbert] = rerank.NewColbertRanker(s.registry.LazyColbert())
	}
	return rankers
}

// Start creates collections, warms models, starts the consumer, and
// serves HTTP. It blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.ensureCollections(ctx); err != nil {
		return err
	}

	if err := s.registry.Preload(ctx); err != nil {
		// Degraded mode: models retry loading on first use.
		s.log.WithError(err).Warn("some embedding models failed to preload")
	}

	if s.consumer != nil {
		if err := s.consumer.Start(ctx); err != nil {
			return err
		}
	} else {
		s.queue.Start()
	}

	mux := http.NewServeMux()
	NewHandler(s.retriever, s.sessions, s.multi, s.multi, s.log).RegisterRoutes(mux)
	NewHealthHandler(s.version, s.store).RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = ThrottleMiddleware(throttleRPS, throttleBurst)(handler)
	handler = CORSMiddleware(handler)
	handler = LoggingMiddleware(s.log)(handler)
	handler = RecoveryMiddleware(s.log)(handler)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", s.cfg.Address(), "version", s.version)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the graph down: consumer first so the queue drains into
// the store, then the listener, then the clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.log.Info("shutting down")

	if s.consumer != nil {
		s.consumer.Stop(ctx)
	} else {
		s.queue.Stop(ctx)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Error("HTTP shutdown error")
		}
	}

	if err := s.status.Close(); err != nil {
		s.log.WithError(err).Warn("error closing status bus")
	}
	s.registry.Close()
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("error closing store client")
	}

	s.log.Info("server stopped")
	return nil
}

// ensureCollections creates the three collections if they don't exist.
func (s *Server) ensureCollections(ctx context.Context) error {
	colbertSize := uint64(0)
	if s.cfg.Embed.EnableColbert {
		colbertSize = uint64(s.cfg.Embed.ColbertDim)
	}

	for _, name := range []string{store.CollectionMemories, store.CollectionSessions, store.CollectionTurns} {
		err := s.store.CreateCollection(ctx, store.CollectionConfig{
			Name:          name,
			TextDenseSize: uint64(s.cfg.Embed.TextDim),
			CodeDenseSize: uint64(s.cfg.Embed.CodeDim),
			ColbertSize:   colbertSize,
		})
		if err != nil {
			return fmt.Errorf("ensuring collection %s: %w", name, err)
		}
	}
	return nil
}

// buildCache assembles the embedding cache: local LRU always, layered
// over Redis when configured.
func buildCache(cfg config.CacheConfig, ttl time.Duration, log *logger.Logger) embed.Cache {
	lru := embed.NewLocalLRU(cfg.LocalSize)
	if cfg.RedisURL == "" {
		return lru
	}

	addr := strings.TrimPrefix(cfg.RedisURL, "redis://")
	shared, err := embed.NewRedisCache(addr, "", 0)
	if err != nil {
		log.WithError(err).Warn("redis cache unavailable, using local cache only")
		return lru
	}
	return embed.NewLayeredCache(lru, shared, ttl)
}

// serviceInstanceID names this process in consumer status records.
func serviceInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "mem-search"
	}
	return host + "-" + uuid.NewString()[:8]
}
