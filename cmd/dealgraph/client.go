package dealgraph

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/config"
)

// addClientFlags registers the store and embedding flags shared by the
// one-shot commands.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("store-backend", "badger", "Store backend (badger, postgres, neo4j, memory)")
	cmd.Flags().String("store-path", "./dealgraph_db", "Store path (badger)")
	cmd.Flags().String("store-dsn", "", "Store DSN (postgres)")
	cmd.Flags().String("store-uri", "", "Store URI (neo4j)")
	cmd.Flags().String("embedding-provider", "", "Embedding provider (openai, embedeverything, local)")
	cmd.Flags().String("embedding-model", "", "Embedding model")
	cmd.Flags().String("embedding-api-key", "", "Embedding API key")
	cmd.Flags().String("embedding-base-url", "", "Embedding base URL")
}

// openClient loads config, applies flag overrides, and opens a client.
// The caller owns Close.
func openClient(ctx context.Context, cmd *cobra.Command) (*dealgraph.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrideConfigWithFlags(cmd, cfg)

	client, err := dealgraph.Open(ctx, cfg, newLogger(cfg.Log.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize dealgraph: %w", err)
	}
	return client, cfg, nil
}
