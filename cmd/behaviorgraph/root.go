// Package behaviorgraph implements the CLI. Every command takes one JSON
// argument blob, writes one JSON document to stdout and reserves stderr for
// logs; failures are serialized as {"error": ...} with a non-zero exit.
package behaviorgraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kaptinlin/jsonrepair"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	root "github.com/soundprediction/go-behaviorgraph"
	"github.com/soundprediction/go-behaviorgraph/pkg/config"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "behaviorgraph",
	Short: "Cross-platform behavioral pattern detection over heterogeneous event graphs",
	Long: `behaviorgraph trains a heterogeneous graph attention network over per-user
event graphs and detects recurring correlations such as "music activity X
precedes calendar event Y".

Each command takes a single JSON argument (or "-" to read it from stdin)
and prints a single JSON result on stdout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	viper.AutomaticEnv()
	rootCmd.PersistentFlags().String("model-path", "", "Checkpoint path (overrides modelPath in the request)")
	rootCmd.PersistentFlags().String("cache-dir", "", "Embedding cache directory (empty disables caching)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// Execute runs the CLI. Errors that never reached a command's fail call,
// such as an unknown subcommand or a bad argument count, are serialized here
// so every failure mode produces the {"error": ...} envelope on stdout.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var reported *reportedError
	if !errors.As(err, &reported) {
		emit(map[string]string{"error": err.Error()})
	}
	return err
}

// commonRequest is the envelope every graph-consuming command shares.
type commonRequest struct {
	ModelPath string         `json:"modelPath"`
	GraphData *graph.Payload `json:"graphData"`
}

// readBlob returns the JSON argument, reading stdin when the argument is
// "-". A strict parse failure is retried once through jsonrepair, since the
// upstream glue occasionally emits sloppy JSON.
func readBlob(args []string) ([]byte, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: behaviorgraph <command> '<json>'")
	}
	raw := args[0]
	if raw == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read request from stdin: %w", err)
		}
		raw = string(data)
	}
	if json.Valid([]byte(raw)) {
		return []byte(raw), nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON request: %w", err)
	}
	return []byte(repaired), nil
}

func decodeRequest(args []string, v any) error {
	blob, err := readBlob(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}
	return nil
}

// newDetector assembles a Detector from config, the request's modelPath and
// flag overrides (flags win).
func newDetector(cmd *cobra.Command, requestModelPath string) (*root.Detector, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	log := logger.NewDefault(logger.ParseLevel(cfg.Log.Level))

	modelPath := cfg.Model.Path
	if requestModelPath != "" {
		modelPath = requestModelPath
	}
	if flagPath, _ := cmd.Flags().GetString("model-path"); flagPath != "" {
		modelPath = flagPath
	}

	cacheDir := cfg.Cache.Dir
	if flagDir, _ := cmd.Flags().GetString("cache-dir"); flagDir != "" {
		cacheDir = flagDir
	}

	detector := root.NewDetector(
		root.WithModelPath(modelPath),
		root.WithCacheDir(cacheDir),
		root.WithLogger(log),
	)
	return detector, cfg, nil
}

// emit writes the single JSON result document to stdout.
func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// reportedError marks an error whose envelope fail has already written, so
// Execute does not serialize it a second time.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// fail serializes the error as {"error": ...} on stdout and returns it so
// the process exits non-zero. No partial result is ever emitted alongside.
func fail(err error) error {
	emit(map[string]string{"error": err.Error()})
	return &reportedError{err: err}
}
