package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/firebase/genkit/go/genkit"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/config"
	dealgraphLogger "github.com/harborstone/dealgraph/pkg/logger"
)

// Default configuration values
const (
	DefaultStoreBackend = "badger"
	DefaultStorePath    = "./dealgraph_db"
	DefaultDealID       = "default"
	DefaultTransport    = "stdio"
	DefaultMCPPort      = 8090
)

// Config holds all configuration for the MCP server
type Config struct {
	// Store Configuration
	StoreBackend string
	StorePath    string
	StoreDSN     string
	StoreURI     string

	// Embedder Configuration
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string

	// MCP Server Configuration
	DealID         string
	Transport      string
	Host           string
	Port           int
	RecoverOrphans bool
}

// MCPServer wraps the dealgraph client for MCP operations
type MCPServer struct {
	config *Config
	client *dealgraph.Client
	logger *slog.Logger
}

// NewConfig creates a new configuration from environment variables
func NewConfig() *Config {
	return &Config{
		StoreBackend:      getEnv("STORE_BACKEND", DefaultStoreBackend),
		StorePath:         getEnv("DEALGRAPH_DATA_DIR", DefaultStorePath),
		StoreDSN:          getEnv("DATABASE_URL", ""),
		StoreURI:          getEnv("NEO4J_URI", ""),
		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", ""),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
		EmbeddingAPIKey:   getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
		EmbeddingBaseURL:  getEnv("EMBEDDING_BASE_URL", ""),
		DealID:            getEnv("DEAL_ID", DefaultDealID),
		Transport:         getEnv("MCP_TRANSPORT", DefaultTransport),
		Host:              getEnv("MCP_HOST", "localhost"),
		Port:              getEnvInt("MCP_PORT", DefaultMCPPort),
		RecoverOrphans:    getEnvBool("RECOVER_ORPHANS", false),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(ctx context.Context, mcpConfig *Config) (*MCPServer, error) {
	logger := slog.New(dealgraphLogger.NewColorHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Store.Backend = mcpConfig.StoreBackend
	cfg.Store.Path = mcpConfig.StorePath
	if mcpConfig.StoreDSN != "" {
		cfg.Store.DSN = mcpConfig.StoreDSN
	}
	if mcpConfig.StoreURI != "" {
		cfg.Store.URI = mcpConfig.StoreURI
	}
	if mcpConfig.EmbeddingProvider != "" {
		cfg.Embedding.Provider = mcpConfig.EmbeddingProvider
	}
	if mcpConfig.EmbeddingModel != "" {
		cfg.Embedding.Model = mcpConfig.EmbeddingModel
	}
	if mcpConfig.EmbeddingAPIKey != "" {
		cfg.Embedding.APIKey = mcpConfig.EmbeddingAPIKey
	}
	if mcpConfig.EmbeddingBaseURL != "" {
		cfg.Embedding.BaseURL = mcpConfig.EmbeddingBaseURL
	}

	client, err := dealgraph.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dealgraph: %w", err)
	}

	return &MCPServer{
		config: mcpConfig,
		client: client,
		logger: logger,
	}, nil
}

// Initialize verifies the client and runs requested startup maintenance.
func (s *MCPServer) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing dealgraph MCP server...")

	if s.client == nil {
		return fmt.Errorf("dealgraph client not initialized")
	}

	// Return documents stranded mid-processing by a previous crash to the
	// queue before accepting new work.
	if s.config.RecoverOrphans {
		recovered, err := s.client.RecoverOrphans(ctx, s.config.DealID)
		if err != nil {
			s.logger.Error("Failed to recover orphaned documents", "error", err)
			return fmt.Errorf("failed to recover orphaned documents: %w", err)
		}
		if recovered > 0 {
			s.logger.Info("Recovered orphaned documents", "count", recovered)
		}
	}

	s.logger.Info("MCP server configuration",
		"deal_id", s.config.DealID,
		"transport", s.config.Transport,
		"store_backend", s.config.StoreBackend,
		"store_path", s.config.StorePath,
	)

	return nil
}

// RegisterTools registers all MCP tools with Genkit
func (s *MCPServer) RegisterTools(g *genkit.Genkit) {
	genkit.DefineTool(g, "ingest_document",
		"Ingest one document's extracted facts into a deal. This is the primary way to add information to the store.",
		s.IngestDocumentTool)

	genkit.DefineTool(g, "query_deal",
		"Ask a question against a deal and get cited answers from hybrid retrieval.",
		s.QueryDealTool)

	genkit.DefineTool(g, "read_fact_as_of",
		"Read the fact standing for an entity and predicate at a point in time.",
		s.ReadFactAsOfTool)

	genkit.DefineTool(g, "get_fact_history",
		"Get the full recorded history of facts for an entity and predicate, including superseded ones.",
		s.GetFactHistoryTool)

	genkit.DefineTool(g, "list_contradictions",
		"List contradiction records for a deal, optionally filtered by resolution state.",
		s.ListContradictionsTool)

	genkit.DefineTool(g, "resolve_contradiction",
		"Resolve a contradiction record as superseded or dismissed.",
		s.ResolveContradictionTool)

	genkit.DefineTool(g, "merge_entities",
		"Merge a duplicate entity into its canonical record.",
		s.MergeEntitiesTool)

	genkit.DefineTool(g, "invalidate_fact",
		"End a fact's validity now. The fact stays readable in history.",
		s.InvalidateFactTool)

	genkit.DefineTool(g, "get_deal_stats",
		"Get bookkeeping counts for a deal: entities, facts, contradictions, documents.",
		s.GetDealStatsTool)
}

// Run starts the MCP server
func (s *MCPServer) Run(ctx context.Context) error {
	s.logger.Info("Starting Genkit MCP server", "transport", s.config.Transport)

	// Initialize Genkit
	g := genkit.Init(ctx)

	// Register all tools
	s.RegisterTools(g)

	s.logger.Info("MCP server is ready to accept requests")

	<-ctx.Done()
	return ctx.Err()
}

// Close shuts the underlying client down.
func (s *MCPServer) Close() error {
	return s.client.Close()
}

func main() {
	// Parse command line flags
	var (
		dealID         = flag.String("deal-id", "", "Default deal for tool calls")
		transport      = flag.String("transport", "", "Transport to use (stdio or sse)")
		host           = flag.String("host", "", "Host to bind the MCP server to")
		port           = flag.Int("port", 0, "Port to bind the MCP server to")
		storeBackend   = flag.String("store-backend", "", "Store backend (badger, postgres, neo4j)")
		storePath      = flag.String("store-path", "", "Store path (badger)")
		recoverOrphans = flag.Bool("recover-orphans", false, "Recover documents stranded in processing on startup")
	)
	flag.Parse()

	// Create configuration
	cfg := NewConfig()

	// Apply command line overrides
	if *dealID != "" {
		cfg.DealID = *dealID
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *storeBackend != "" {
		cfg.StoreBackend = *storeBackend
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *recoverOrphans {
		cfg.RecoverOrphans = true
	}

	// Validate required configuration
	if cfg.DealID == "" {
		log.Fatal("Deal id must be set")
	}
	if cfg.StoreBackend == "badger" && cfg.StorePath == "" {
		log.Fatal("Store path must be set for the badger backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create and initialize server
	server, err := NewMCPServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	if err := server.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize MCP server: %v", err)
	}

	// Run the server
	if err := server.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("MCP server error: %v", err)
	}
}
