package dealgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [units-file]",
	Short: "Ingest one extracted document into a deal",
	Long: `Ingest one document's extraction units into a deal.

The units file is a JSON or YAML array of extraction units as produced by
the extraction pipeline. The document's content hash defaults to the
SHA-256 of the file, so re-running the command on an unchanged file is a
no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var (
	ingestDeal     string
	ingestDocument string
	ingestHash     string
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestDeal, "deal", "", "Deal id (required)")
	ingestCmd.Flags().StringVar(&ingestDocument, "document", "", "Document id (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestHash, "hash", "", "Content hash (defaults to sha256 of the file)")
	addClientFlags(ingestCmd)

	ingestCmd.MarkFlagRequired("deal")
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read units file: %w", err)
	}

	units, err := parseUnits(args[0], data)
	if err != nil {
		return fmt.Errorf("failed to parse units file: %w", err)
	}

	documentID := ingestDocument
	if documentID == "" {
		documentID = filepath.Base(args[0])
	}
	contentHash := ingestHash
	if contentHash == "" {
		sum := sha256.Sum256(data)
		contentHash = hex.EncodeToString(sum[:])
	}

	ctx := context.Background()
	client, _, err := openClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.IngestDocument(ctx, &types.Document{
		ID:          documentID,
		DealID:      ingestDeal,
		ContentHash: contentHash,
	}, units)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if res.Unchanged {
		fmt.Printf("Document %s unchanged (content hash already ingested)\n", documentID)
		return nil
	}

	fmt.Printf("Document %s ingested: %d written, %d skipped, %d ambiguous, %d superseded\n",
		documentID, res.Written, res.Skipped, res.Ambiguous, res.Superseded)
	if res.Contradictions > 0 {
		fmt.Printf("Detected %d contradiction(s) with existing facts; review with the contradictions endpoint\n",
			res.Contradictions)
	}
	return nil
}

// parseUnits decodes a units file by extension. YAML files tolerate
// malformed items; JSON files are all-or-nothing.
func parseUnits(path string, data []byte) ([]types.ExtractionUnit, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		decoded, skipped, err := utils.DecodeYAMLList[types.ExtractionUnit](data)
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			fmt.Fprintf(os.Stderr, "Warning: skipped %d malformed unit(s)\n", skipped)
		}
		units := make([]types.ExtractionUnit, len(decoded))
		for i, u := range decoded {
			units[i] = *u
		}
		return units, nil
	default:
		var units []types.ExtractionUnit
		if err := json.Unmarshal(data, &units); err != nil {
			return nil, err
		}
		return units, nil
	}
}
