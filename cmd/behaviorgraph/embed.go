package behaviorgraph

import (
	"fmt"

	"github.com/spf13/cobra"

	root "github.com/soundprediction/go-behaviorgraph"
)

var embedCmd = &cobra.Command{
	Use:   "embed '<json>'",
	Short: "Export node embeddings for downstream clustering",
	Long: `Load the checkpoint, run one forward pass and return every node's final
embedding plus a synthetic "{type}_{localIndex}" id.

Request fields: graphData (required), modelPath, duckdbPath (optional
result export).`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)
}

type embedRequest struct {
	commonRequest
	DuckDBPath string `json:"duckdbPath"`
}

func runEmbed(cmd *cobra.Command, args []string) error {
	var req embedRequest
	if err := decodeRequest(args, &req); err != nil {
		return fail(err)
	}
	if req.GraphData == nil {
		return fail(fmt.Errorf("request is missing graphData"))
	}

	detector, _, err := newDetector(cmd, req.ModelPath)
	if err != nil {
		return fail(err)
	}

	result, err := detector.ExportEmbeddings(cmd.Context(), req.GraphData, root.EmbedOptions{
		DuckDBPath: req.DuckDBPath,
	})
	if err != nil {
		return fail(err)
	}
	return emit(result)
}
