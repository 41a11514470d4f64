package dealgraph

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a parquet snapshot of a deal",
	Long: `Write a parquet snapshot of a deal's facts, entities, contradictions, and
documents for downstream analytics. The snapshot lands in a timestamped
directory under --out (or the configured export path).`,
	RunE: runExport,
}

var (
	exportDeal string
	exportOut  string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDeal, "deal", "", "Deal id (required)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output directory (defaults to the configured export path)")
	addClientFlags(exportCmd)

	exportCmd.MarkFlagRequired("deal")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, _, err := openClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	manifest, err := client.Export(ctx, exportDeal, exportOut)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("Snapshot written to %s\n", manifest.Dir)
	fmt.Printf("  facts=%d entities=%d contradictions=%d documents=%d\n",
		manifest.Facts, manifest.Entities, manifest.Contradictions, manifest.Documents)
	return nil
}
