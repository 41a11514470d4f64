package dealgraph

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the dealgraph HTTP server",
	Long: `Start the dealgraph HTTP server to provide REST API access to the knowledge store.

The server provides endpoints for:
- Ingesting extracted documents (sync and async)
- Querying with hybrid retrieval and citations
- Reviewer corrections (merges, invalidations, contradiction resolution)
- Point-in-time fact reads and history
- Per-deal stats and parquet snapshot export
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")
	serverCmd.Flags().Float64("rate-limit-rps", 50, "Per-client request rate limit (0 disables)")
	serverCmd.Flags().Int("rate-limit-burst", 100, "Per-client burst allowance")

	// Store flags
	serverCmd.Flags().String("store-backend", "badger", "Store backend (badger, postgres, neo4j, memory)")
	serverCmd.Flags().String("store-path", "./dealgraph_db", "Store path (badger)")
	serverCmd.Flags().String("store-dsn", "", "Store DSN (postgres)")
	serverCmd.Flags().String("store-uri", "", "Store URI (neo4j)")

	// Embedding flags
	serverCmd.Flags().String("embedding-provider", "", "Embedding provider (openai, embedeverything, local)")
	serverCmd.Flags().String("embedding-model", "", "Embedding model")
	serverCmd.Flags().String("embedding-api-key", "", "Embedding API key")
	serverCmd.Flags().String("embedding-base-url", "", "Embedding base URL")

	// Export flags
	serverCmd.Flags().String("export-path", "", "Directory for parquet snapshot exports")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	overrideConfigWithFlags(cmd, cfg)

	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg.Log.Level)

	fmt.Println("Initializing dealgraph...")
	ctx := context.Background()
	client, err := dealgraph.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize dealgraph: %w", err)
	}
	defer client.Close()
	fmt.Printf("Dealgraph initialized with %s store at %s\n", cfg.Store.Backend, cfg.Store.Path)

	srv := server.New(cfg, client, log)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v\n", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}
	if cmd.Flags().Changed("rate-limit-rps") {
		cfg.Server.RateLimitRPS, _ = cmd.Flags().GetFloat64("rate-limit-rps")
	}
	if cmd.Flags().Changed("rate-limit-burst") {
		cfg.Server.RateLimitBurst, _ = cmd.Flags().GetInt("rate-limit-burst")
	}

	// Store flags
	if cmd.Flags().Changed("store-backend") {
		cfg.Store.Backend, _ = cmd.Flags().GetString("store-backend")
	}
	if cmd.Flags().Changed("store-path") {
		cfg.Store.Path, _ = cmd.Flags().GetString("store-path")
	}
	if cmd.Flags().Changed("store-dsn") {
		cfg.Store.DSN, _ = cmd.Flags().GetString("store-dsn")
	}
	if cmd.Flags().Changed("store-uri") {
		cfg.Store.URI, _ = cmd.Flags().GetString("store-uri")
	}

	// Embedding flags
	if cmd.Flags().Changed("embedding-provider") {
		cfg.Embedding.Provider, _ = cmd.Flags().GetString("embedding-provider")
	}
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("embedding-api-key") {
		cfg.Embedding.APIKey, _ = cmd.Flags().GetString("embedding-api-key")
	}
	if cmd.Flags().Changed("embedding-base-url") {
		cfg.Embedding.BaseURL, _ = cmd.Flags().GetString("embedding-base-url")
	}

	// Export flags
	if cmd.Flags().Changed("export-path") {
		cfg.Export.Path, _ = cmd.Flags().GetString("export-path")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	switch cfg.Store.Backend {
	case "badger":
		if cfg.Store.Path == "" && !cfg.Store.InMemory {
			return fmt.Errorf("store path is required for the badger backend")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store DSN is required for the postgres backend")
		}
	case "neo4j":
		if cfg.Store.URI == "" {
			return fmt.Errorf("store URI is required for the neo4j backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
	return nil
}
