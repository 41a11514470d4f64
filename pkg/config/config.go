package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Store configuration
	Store StoreConfig `mapstructure:"store"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Resolver configuration
	Resolver ResolverConfig `mapstructure:"resolver"`

	// Detector configuration
	Detector DetectorConfig `mapstructure:"detector"`

	// Ingest configuration
	Ingest IngestConfig `mapstructure:"ingest"`

	// Retrieval configuration
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Mentions configuration
	Mentions MentionsConfig `mapstructure:"mentions"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// Export configuration
	Export ExportConfig `mapstructure:"export"`

	// MCP configuration
	MCP MCPConfig `mapstructure:"mcp"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test

	// RateLimitRPS caps request throughput per client; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// StoreConfig holds fact store configuration
type StoreConfig struct {
	Backend        string `mapstructure:"backend"` // badger, postgres, neo4j, memory
	Path           string `mapstructure:"path"`
	InMemory       bool   `mapstructure:"in_memory"`
	DSN            string `mapstructure:"dsn"`
	URI            string `mapstructure:"uri"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	EmbeddingDim   int    `mapstructure:"embedding_dim"`
	MaxConnections int    `mapstructure:"max_connections"`
	TieBreak       string `mapstructure:"tie_break"` // recency, confidence
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai, embedeverything, local
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ResolverConfig holds entity resolution thresholds
type ResolverConfig struct {
	// FuzzyThreshold is the minimum normalized edit-distance similarity for a
	// fuzzy name match.
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
	// SemanticThreshold is the minimum embedding cosine similarity; stricter
	// than the fuzzy threshold because semantic evidence is weaker.
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
	// MaxCandidates bounds the semantic candidate fetch.
	MaxCandidates int `mapstructure:"max_candidates"`
}

// DetectorConfig holds contradiction detection settings
type DetectorConfig struct {
	// NumericTolerance is the default relative difference below which two
	// numeric claims are considered equal.
	NumericTolerance float64 `mapstructure:"numeric_tolerance"`
	// PredicateTolerances overrides the default per predicate, e.g.
	// "q3_revenue": 0.005.
	PredicateTolerances map[string]float64 `mapstructure:"predicate_tolerances"`
}

// IngestConfig holds ingestion coordinator settings
type IngestConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RetrievalConfig holds hybrid retrieval settings
type RetrievalConfig struct {
	// CandidateBudget caps each sub-search's result count.
	CandidateBudget int `mapstructure:"candidate_budget"`
	// SearchTimeout bounds each sub-search; TotalTimeout bounds the whole
	// retrieval including rerank.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	TotalTimeout  time.Duration `mapstructure:"total_timeout"`
	// GraphDepth is the bounded-expansion hop limit for the graph search.
	GraphDepth int `mapstructure:"graph_depth"`
	// K is the default result count returned to callers.
	K int `mapstructure:"k"`
	// RRFK is the reciprocal-rank-fusion constant.
	RRFK int `mapstructure:"rrf_k"`
	// UseMMR enables the maximal-marginal-relevance diversity pass;
	// MMRLambda balances relevance against diversity in [0,1], where 1
	// behaves like plain relevance ranking.
	UseMMR    bool    `mapstructure:"use_mmr"`
	MMRLambda float64 `mapstructure:"mmr_lambda"`
	// UseCrossEncoder enables the cross-encoder rerank stage.
	UseCrossEncoder bool `mapstructure:"use_cross_encoder"`
	// CrossEncoderProvider selects the client: embedeverything (local),
	// openai, or mock.
	CrossEncoderProvider string `mapstructure:"cross_encoder_provider"`
	CrossEncoderModel    string `mapstructure:"cross_encoder_model"`
	// TieBreak orders equal-scored candidates: "confidence" (default) or
	// "recency".
	TieBreak string `mapstructure:"tie_break"`
}

// MentionsConfig holds query mention tagging settings
type MentionsConfig struct {
	// Provider selects the tagger: lexicon (store aliases, no model),
	// gliner, or rustbert.
	Provider string `mapstructure:"provider"`
	// ModelID is a HuggingFace id or local model directory for the NER
	// providers; empty uses each provider's default.
	ModelID string `mapstructure:"model_id"`
	// Labels are the zero-shot labels handed to GLiNER.
	Labels []string `mapstructure:"labels"`
	// MinScore drops NER spans below this probability.
	MinScore float64 `mapstructure:"min_score"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ExportConfig holds snapshot export configuration
type ExportConfig struct {
	Path string `mapstructure:"path"`
}

// MCPConfig holds MCP server configuration
type MCPConfig struct {
	Transport string `mapstructure:"transport"` // stdio, sse
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings that would misbehave silently at runtime.
func (c *Config) Validate() error {
	if c.Resolver.FuzzyThreshold < 0 || c.Resolver.FuzzyThreshold > 1 {
		return fmt.Errorf("resolver.fuzzy_threshold %v out of [0,1]", c.Resolver.FuzzyThreshold)
	}
	if c.Resolver.SemanticThreshold < 0 || c.Resolver.SemanticThreshold > 1 {
		return fmt.Errorf("resolver.semantic_threshold %v out of [0,1]", c.Resolver.SemanticThreshold)
	}
	if c.Resolver.SemanticThreshold < c.Resolver.FuzzyThreshold {
		return fmt.Errorf("resolver.semantic_threshold %v must not be looser than fuzzy_threshold %v",
			c.Resolver.SemanticThreshold, c.Resolver.FuzzyThreshold)
	}
	if c.Detector.NumericTolerance < 0 {
		return fmt.Errorf("detector.numeric_tolerance %v negative", c.Detector.NumericTolerance)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.MaxAttempts <= 0 {
		return fmt.Errorf("ingest.max_attempts must be positive, got %d", c.Ingest.MaxAttempts)
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("retrieval.mmr_lambda %v out of [0,1]", c.Retrieval.MMRLambda)
	}
	if c.Retrieval.SearchTimeout > c.Retrieval.TotalTimeout {
		return fmt.Errorf("retrieval.search_timeout %v exceeds total_timeout %v",
			c.Retrieval.SearchTimeout, c.Retrieval.TotalTimeout)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.rate_limit_rps", 50.0)
	viper.SetDefault("server.rate_limit_burst", 100)

	// Store defaults
	viper.SetDefault("store.backend", "badger")
	viper.SetDefault("store.path", "./dealgraph_db")
	viper.SetDefault("store.embedding_dim", 1024)
	viper.SetDefault("store.tie_break", "recency")

	// Embedding defaults
	viper.SetDefault("embedding.provider", "embedeverything")
	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.dimensions", 384)

	// Resolver defaults
	viper.SetDefault("resolver.fuzzy_threshold", 0.85)
	viper.SetDefault("resolver.semantic_threshold", 0.92)
	viper.SetDefault("resolver.max_candidates", 10)

	// Detector defaults
	viper.SetDefault("detector.numeric_tolerance", 0.005)

	// Ingest defaults
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.queue_size", 256)
	viper.SetDefault("ingest.max_attempts", 4)
	viper.SetDefault("ingest.base_backoff", 500*time.Millisecond)
	viper.SetDefault("ingest.max_backoff", 30*time.Second)
	viper.SetDefault("ingest.poll_interval", 2*time.Second)

	// Retrieval defaults
	viper.SetDefault("retrieval.candidate_budget", 50)
	viper.SetDefault("retrieval.search_timeout", 800*time.Millisecond)
	viper.SetDefault("retrieval.total_timeout", 2*time.Second)
	viper.SetDefault("retrieval.graph_depth", 2)
	viper.SetDefault("retrieval.k", 10)
	viper.SetDefault("retrieval.rrf_k", 60)
	viper.SetDefault("retrieval.mmr_lambda", 0.7)
	viper.SetDefault("retrieval.cross_encoder_provider", "embedeverything")
	viper.SetDefault("retrieval.tie_break", "confidence")

	// Mentions defaults
	viper.SetDefault("mentions.provider", "lexicon")
	viper.SetDefault("mentions.min_score", 0.5)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Alert defaults
	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.smtp_port", 587)

	// Export defaults
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("export.path", fmt.Sprintf("%s/.dealgraph/exports", home))
	}

	// MCP defaults
	viper.SetDefault("mcp.transport", "stdio")
	viper.SetDefault("mcp.host", "localhost")
	viper.SetDefault("mcp.port", 8090)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = apiKey
	}
	if apiKey := os.Getenv("EMBEDDING_API_KEY"); apiKey != "" {
		config.Embedding.APIKey = apiKey
	}
	if baseURL := os.Getenv("EMBEDDING_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}

	// Store backends
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		config.Store.Backend = backend
	}
	if path := os.Getenv("DEALGRAPH_DATA_DIR"); path != "" {
		config.Store.Path = path
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Store.DSN = dsn
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Store.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Store.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Store.Password = pass
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		viper.Set("server.port", port)
		config.Server.Port = viper.GetInt("server.port")
	}

	// Export settings
	if path := os.Getenv("EXPORT_PATH"); path != "" {
		config.Export.Path = path
	}
}
