package dealgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborstone/dealgraph"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question against a deal",
	Long: `Ask a natural-language question against a deal and print cited answers.

Each answer carries its source document, locator, and confidence. Pass
--as-of to answer from the facts that were valid at a past instant, or
--entity to restrict answers to specific entities.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

var (
	queryDeal     string
	queryK        int
	queryAsOf     string
	queryEntities []string
)

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryDeal, "deal", "", "Deal id (required)")
	queryCmd.Flags().IntVar(&queryK, "k", 0, "Number of answers (0 uses the configured default)")
	queryCmd.Flags().StringVar(&queryAsOf, "as-of", "", "Answer as of this RFC3339 instant")
	queryCmd.Flags().StringSliceVar(&queryEntities, "entity", nil, "Restrict answers to these entity ids")
	addClientFlags(queryCmd)

	queryCmd.MarkFlagRequired("deal")
}

func runQuery(cmd *cobra.Command, args []string) error {
	req := dealgraph.QueryRequest{
		DealID:       queryDeal,
		Text:         strings.Join(args, " "),
		K:            queryK,
		EntityFilter: queryEntities,
	}
	if queryAsOf != "" {
		at, err := time.Parse(time.RFC3339, queryAsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of, want RFC3339: %w", err)
		}
		req.AsOf = &at
	}

	ctx := context.Background()
	client, _, err := openClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Query(ctx, req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if res.Partial {
		fmt.Printf("Warning: partial result, degraded sources: %v\n", res.Degraded)
	}
	if len(res.Answers) == 0 {
		fmt.Println("No answers found")
		return nil
	}

	for i, a := range res.Answers {
		fmt.Printf("%2d. %s\n", i+1, a.Claim)
		fmt.Printf("    source=%s locator=%q confidence=%.2f score=%.4f\n",
			a.DocumentID, a.Locator.String(), a.Confidence, a.Score)
	}
	if res.Excluded > 0 {
		fmt.Printf("(%d answer(s) excluded for missing provenance)\n", res.Excluded)
	}
	return nil
}
