package dealgraph

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print bookkeeping counts for a deal",
	RunE:  runStats,
}

var statsDeal string

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsDeal, "deal", "", "Deal id (required)")
	addClientFlags(statsCmd)

	statsCmd.MarkFlagRequired("deal")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, _, err := openClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Stats(ctx, statsDeal)
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	fmt.Printf("Deal %s\n", stats.DealID)
	fmt.Printf("  entities:          %d\n", stats.Entities)
	fmt.Printf("  facts valid:       %d\n", stats.FactsValid)
	fmt.Printf("  facts invalidated: %d\n", stats.FactsInvalidated)
	for state, n := range stats.Contradictions {
		fmt.Printf("  contradictions %s: %d\n", state, n)
	}
	for status, n := range stats.Documents {
		fmt.Printf("  documents %s: %d\n", status, n)
	}
	return nil
}
