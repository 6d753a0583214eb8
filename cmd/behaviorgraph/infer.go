package behaviorgraph

import (
	"fmt"

	"github.com/spf13/cobra"

	root "github.com/soundprediction/go-behaviorgraph"
)

// Inference defaults, matching the upstream callers.
const (
	defaultMinConfidence = 0.75
	defaultTopK          = 10
)

var inferCmd = &cobra.Command{
	Use:   "infer '<json>'",
	Short: "Detect music-before-event patterns in a behavior graph",
	Long: `Load the checkpoint, score every (music activity, calendar event) pair and
return patterns at or above minConfidence, ranked by correlation.

Request fields: graphData (required), modelPath, minConfidence (default
0.75), topK (default 10), duckdbPath (optional result export).`,
	Args: cobra.ExactArgs(1),
	RunE: runInfer,
}

func init() {
	rootCmd.AddCommand(inferCmd)
}

type inferRequest struct {
	commonRequest
	MinConfidence *float64 `json:"minConfidence"`
	TopK          *int     `json:"topK"`
	DuckDBPath    string   `json:"duckdbPath"`
}

func runInfer(cmd *cobra.Command, args []string) error {
	var req inferRequest
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

	opts := root.InferOptions{
		MinConfidence: defaultMinConfidence,
		TopK:          defaultTopK,
		DuckDBPath:    req.DuckDBPath,
	}
	if req.MinConfidence != nil {
		opts.MinConfidence = *req.MinConfidence
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}

	result, err := detector.DetectPatterns(cmd.Context(), req.GraphData, opts)
	if err != nil {
		return fail(err)
	}
	return emit(result)
}
