package behaviorgraph

import (
	"fmt"

	"github.com/spf13/cobra"

	root "github.com/soundprediction/go-behaviorgraph"
)

var trainCmd = &cobra.Command{
	Use:   "train '<json>'",
	Short: "Train a pattern-detection model on a behavior graph",
	Long: `Train a fresh model on the request's graphData and write the checkpoint.

Request fields: graphData (required), modelPath, epochs (default 100),
learningRate (default 0.001), hiddenChannels (default 128), numLayers
(default 4), seed (default: clock).`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

type trainRequest struct {
	commonRequest
	Epochs         *int     `json:"epochs"`
	LearningRate   *float64 `json:"learningRate"`
	HiddenChannels *int     `json:"hiddenChannels"`
	NumLayers      *int     `json:"numLayers"`
	Seed           int64    `json:"seed"`
}

func runTrain(cmd *cobra.Command, args []string) error {
	var req trainRequest
	if err := decodeRequest(args, &req); err != nil {
		return fail(err)
	}
	if req.GraphData == nil {
		return fail(fmt.Errorf("request is missing graphData"))
	}

	detector, cfg, err := newDetector(cmd, req.ModelPath)
	if err != nil {
		return fail(err)
	}

	opts := root.TrainOptions{
		Epochs:         cfg.Training.Epochs,
		LearningRate:   cfg.Training.LearningRate,
		HiddenChannels: cfg.Training.HiddenChannels,
		NumLayers:      cfg.Training.NumLayers,
		Seed:           req.Seed,
	}
	if req.Epochs != nil {
		opts.Epochs = *req.Epochs
	}
	if req.LearningRate != nil {
		opts.LearningRate = *req.LearningRate
	}
	if req.HiddenChannels != nil {
		opts.HiddenChannels = *req.HiddenChannels
	}
	if req.NumLayers != nil {
		opts.NumLayers = *req.NumLayers
	}

	result, err := detector.Train(cmd.Context(), req.GraphData, opts)
	if err != nil {
		return fail(err)
	}
	return emit(result)
}
