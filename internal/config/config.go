// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"MEM_HOST" yaml:"host"`
	Port int    `envconfig:"MEM_PORT" yaml:"port"`

	// Qdrant configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Embedding inference configuration
	Embed EmbedConfig `yaml:"embed"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Search configuration
	Search SearchConfig `yaml:"search"`

	// Rerank configuration
	Rerank RerankConfig `yaml:"rerank"`

	// Rate limit configuration for LLM-backed operations
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Index configuration
	Index IndexConfig `yaml:"index"`

	// Consumer configuration
	Consumer ConsumerConfig `yaml:"consumer"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host             string `envconfig:"QDRANT_HOST" yaml:"host"`
	Port             int    `envconfig:"QDRANT_PORT" yaml:"port"`
	APIKey           string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	UseTLS           bool   `envconfig:"QDRANT_USE_TLS" yaml:"use_tls"`
	CollectionPrefix string `envconfig:"QDRANT_COLLECTION_PREFIX" yaml:"collection_prefix"`
	TimeoutMs        int    `envconfig:"QDRANT_TIMEOUT_MS" yaml:"timeout_ms"`
}

// EmbedConfig holds embedding inference settings.
type EmbedConfig struct {
	InferenceURL  string `envconfig:"MEM_INFERENCE_URL" yaml:"inference_url"`
	TextModel     string `envconfig:"MEM_TEXT_MODEL" yaml:"text_model"`
	CodeModel     string `envconfig:"MEM_CODE_MODEL" yaml:"code_model"`
	SparseModel   string `envconfig:"MEM_SPARSE_MODEL" yaml:"sparse_model"`
	ColbertModel  string `envconfig:"MEM_COLBERT_MODEL" yaml:"colbert_model"`
	TextDim       int    `envconfig:"MEM_TEXT_DIM" yaml:"text_dim"`
	CodeDim       int    `envconfig:"MEM_CODE_DIM" yaml:"code_dim"`
	ColbertDim    int    `envconfig:"MEM_COLBERT_DIM" yaml:"colbert_dim"`
	BatchSize     int    `envconfig:"MEM_EMBED_BATCH_SIZE" yaml:"batch_size"`
	TimeoutMs     int    `envconfig:"MEM_EMBED_TIMEOUT_MS" yaml:"timeout_ms"`
	EnableColbert bool   `envconfig:"MEM_ENABLE_COLBERT" yaml:"enable_colbert"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	BaseURL    string `envconfig:"MEM_LLM_URL" yaml:"base_url"`
	Model      string `envconfig:"MEM_LLM_MODEL" yaml:"model"`
	TimeoutMs  int    `envconfig:"MEM_LLM_TIMEOUT_MS" yaml:"timeout_ms"`
	MaxRetries int    `envconfig:"MEM_LLM_MAX_RETRIES" yaml:"max_retries"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultStrategy    string  `envconfig:"MEM_DEFAULT_STRATEGY" yaml:"default_strategy"`
	DefaultLimit       int     `envconfig:"MEM_DEFAULT_LIMIT" yaml:"default_limit"`
	MinScoreDense      float32 `envconfig:"MEM_MIN_SCORE_DENSE" yaml:"min_score_dense"`
	MinScoreSparse     float32 `envconfig:"MEM_MIN_SCORE_SPARSE" yaml:"min_score_sparse"`
	MinScoreHybrid     float32 `envconfig:"MEM_MIN_SCORE_HYBRID" yaml:"min_score_hybrid"`
	RRFK               int     `envconfig:"MEM_RRF_K" yaml:"rrf_k"`
	SessionTopK        int     `envconfig:"MEM_SESSION_TOP_K" yaml:"session_top_k"`
	TurnsPerSession    int     `envconfig:"MEM_TURNS_PER_SESSION" yaml:"turns_per_session"`
	FinalTopK          int     `envconfig:"MEM_FINAL_TOP_K" yaml:"final_top_k"`
	ParallelTurnFetch  bool    `envconfig:"MEM_PARALLEL_TURN_FETCH" yaml:"parallel_turn_fetch"`
	MultiQueryVariants int     `envconfig:"MEM_MULTI_QUERY_VARIANTS" yaml:"multi_query_variants"`
}

// RerankConfig holds reranker router settings.
type RerankConfig struct {
	Depth           int    `envconfig:"MEM_RERANK_DEPTH" yaml:"depth"`
	TimeoutMs       int    `envconfig:"MEM_RERANK_TIMEOUT_MS" yaml:"timeout_ms"`
	LLMTimeoutMs    int    `envconfig:"MEM_RERANK_LLM_TIMEOUT_MS" yaml:"llm_timeout_ms"`
	ModerateTier    string `envconfig:"MEM_RERANK_MODERATE_TIER" yaml:"moderate_tier"`
	ComplexityScore int    `envconfig:"MEM_RERANK_COMPLEXITY_SCORE" yaml:"complexity_score"`
	FastModel       string `envconfig:"MEM_RERANK_FAST_MODEL" yaml:"fast_model"`
	AccurateModel   string `envconfig:"MEM_RERANK_ACCURATE_MODEL" yaml:"accurate_model"`
	CodeModel       string `envconfig:"MEM_RERANK_CODE_MODEL" yaml:"code_model"`
	LLMCostCents    int    `envconfig:"MEM_RERANK_LLM_COST_CENTS" yaml:"llm_cost_cents"`
}

// RateLimitConfig holds limits for LLM-backed reranking.
type RateLimitConfig struct {
	RequestsPerHour int `envconfig:"MEM_RATE_LIMIT_REQUESTS_PER_HOUR" yaml:"requests_per_hour"`
	BudgetCents     int `envconfig:"MEM_RATE_LIMIT_BUDGET_CENTS" yaml:"budget_cents"`
	WindowSeconds   int `envconfig:"MEM_RATE_LIMIT_WINDOW_SECONDS" yaml:"window_seconds"`
}

// IndexConfig holds indexing pipeline settings.
type IndexConfig struct {
	BatchSize       int `envconfig:"MEM_BATCH_SIZE" yaml:"batch_size"`
	FlushIntervalMs int `envconfig:"MEM_FLUSH_INTERVAL_MS" yaml:"flush_interval_ms"`
	MaxQueueSize    int `envconfig:"MEM_MAX_QUEUE_SIZE" yaml:"max_queue_size"`
}

// ConsumerConfig holds event consumer settings.
type ConsumerConfig struct {
	KafkaBrokers        string `envconfig:"MEM_KAFKA_BROKERS" yaml:"kafka_brokers"`
	Topic               string `envconfig:"MEM_CONSUMER_TOPIC" yaml:"topic"`
	StatusTopic         string `envconfig:"MEM_STATUS_TOPIC" yaml:"status_topic"`
	GroupID             string `envconfig:"MEM_CONSUMER_GROUP" yaml:"group_id"`
	HeartbeatIntervalMs int    `envconfig:"MEM_HEARTBEAT_INTERVAL_MS" yaml:"heartbeat_interval_ms"`
	FetchBatchSize      int    `envconfig:"MEM_FETCH_BATCH_SIZE" yaml:"fetch_batch_size"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	RedisURL   string `envconfig:"MEM_REDIS_URL" yaml:"redis_url"`
	TTLSeconds int    `envconfig:"MEM_CACHE_TTL_SECONDS" yaml:"ttl_seconds"`
	LocalSize  int    `envconfig:"MEM_CACHE_LOCAL_SIZE" yaml:"local_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"MEM_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"MEM_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Qdrant = QdrantConfig{
		Host:             "localhost",
		Port:             6334,
		CollectionPrefix: "mem_",
		TimeoutMs:        30000,
	}

	cfg.Embed = EmbedConfig{
		InferenceURL:  "http://localhost:8090",
		TextModel:     "bge-m3",
		CodeModel:     "jina-embeddings-v2-base-code",
		SparseModel:   "splade-v3",
		ColbertModel:  "colbert-v2",
		TextDim:       1024,
		CodeDim:       768,
		ColbertDim:    128,
		BatchSize:     32,
		TimeoutMs:     10000,
		EnableColbert: true,
	}

	cfg.LLM = LLMConfig{
		BaseURL:    "http://localhost:8091",
		Model:      "gpt-4o-mini",
		TimeoutMs:  30000,
		MaxRetries: 3,
	}

	cfg.Search = SearchConfig{
		DefaultStrategy:    "hybrid",
		DefaultLimit:       10,
		MinScoreDense:      0,
		MinScoreSparse:     0,
		MinScoreHybrid:     0,
		RRFK:               60,
		SessionTopK:        5,
		TurnsPerSession:    5,
		FinalTopK:          20,
		ParallelTurnFetch:  true,
		MultiQueryVariants: 3,
	}

	cfg.Rerank = RerankConfig{
		Depth:           50,
		TimeoutMs:       500,
		LLMTimeoutMs:    5000,
		ModerateTier:    "accurate",
		ComplexityScore: 5,
		FastModel:       "ms-marco-minilm-l6-v2",
		AccurateModel:   "bge-reranker-v2-m3",
		CodeModel:       "jina-reranker-v2-base-code",
		LLMCostCents:    1,
	}

	cfg.RateLimit = RateLimitConfig{
		RequestsPerHour: 100,
		BudgetCents:     1000,
		WindowSeconds:   3600,
	}

	cfg.Index = IndexConfig{
		BatchSize:       100,
		FlushIntervalMs: 5000,
		MaxQueueSize:    1000,
	}

	cfg.Consumer = ConsumerConfig{
		KafkaBrokers:        "localhost:9092",
		Topic:               "memory.node.created",
		StatusTopic:         "memory.consumer.status",
		GroupID:             "mem-search-indexer",
		HeartbeatIntervalMs: 30000,
		FetchBatchSize:      10,
	}

	cfg.Cache = CacheConfig{
		RedisURL:   "",
		TTLSeconds: 3600,
		LocalSize:  2048,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	validStrategies := map[string]bool{"dense": true, "sparse": true, "hybrid": true}
	if !validStrategies[c.Search.DefaultStrategy] {
		errs = append(errs, fmt.Sprintf("invalid default_strategy: %s (must be dense, sparse, or hybrid)", c.Search.DefaultStrategy))
	}

	if c.Search.RRFK < 1 {
		errs = append(errs, "rrf_k must be positive")
	}

	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > 100 {
		errs = append(errs, "default_limit must be between 1 and 100")
	}

	for name, v := range map[string]float32{
		"min_score_dense":  c.Search.MinScoreDense,
		"min_score_sparse": c.Search.MinScoreSparse,
		"min_score_hybrid": c.Search.MinScoreHybrid,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1", name))
		}
	}

	if c.Rerank.Depth < 1 || c.Rerank.Depth > 100 {
		errs = append(errs, "rerank depth must be between 1 and 100")
	}

	if c.Rerank.ComplexityScore < 1 {
		errs = append(errs, "rerank complexity_score must be at least 1")
	}

	validTiers := map[string]bool{"accurate": true, "colbert": true}
	if !validTiers[c.Rerank.ModerateTier] {
		errs = append(errs, fmt.Sprintf("invalid moderate_tier: %s (must be accurate or colbert)", c.Rerank.ModerateTier))
	}

	if c.RateLimit.RequestsPerHour < 1 {
		errs = append(errs, "requests_per_hour must be positive")
	}

	if c.RateLimit.BudgetCents < 1 {
		errs = append(errs, "budget_cents must be positive")
	}

	if c.Index.BatchSize < 1 {
		errs = append(errs, "batch_size must be positive")
	}

	if c.Index.MaxQueueSize < c.Index.BatchSize {
		errs = append(errs, "max_queue_size must be at least batch_size")
	}

	if c.Index.FlushIntervalMs < 1 {
		errs = append(errs, "flush_interval_ms must be positive")
	}

	if c.Consumer.HeartbeatIntervalMs < 1000 {
		errs = append(errs, "heartbeat_interval_ms must be at least 1000")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaBrokerList parses the comma-separated broker string.
func (c *ConsumerConfig) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	brokers := strings.Split(c.KafkaBrokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}
