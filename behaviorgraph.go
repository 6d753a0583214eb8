// Package behaviorgraph detects recurring cross-platform behavioral
// correlations ("music activity X tends to precede calendar event Y") by
// training a heterogeneous graph attention network over per-user event
// graphs and scoring pairwise correlation strength.
package behaviorgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/soundprediction/go-behaviorgraph/pkg/cache"
	"github.com/soundprediction/go-behaviorgraph/pkg/checkpoint"
	"github.com/soundprediction/go-behaviorgraph/pkg/detect"
	"github.com/soundprediction/go-behaviorgraph/pkg/export"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/training"
)

// Detector is the high-level client tying the graph builder, model, trainer
// and inference engines together. One Detector serves one checkpoint path;
// calls are batch-oriented and synchronous.
type Detector struct {
	modelPath string
	cacheDir  string
	logger    *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithModelPath sets the checkpoint location.
func WithModelPath(path string) Option {
	return func(d *Detector) { d.modelPath = path }
}

// WithCacheDir enables the badger embedding cache under dir.
func WithCacheDir(dir string) Option {
	return func(d *Detector) { d.cacheDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// NewDetector creates a detector with the default checkpoint path.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		modelPath: checkpoint.DefaultPath,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TrainOptions configure one training run. Zero values use the standard
// defaults (100 epochs, lr 0.001, 128 hidden channels, 4 layers).
type TrainOptions struct {
	Epochs         int
	LearningRate   float64
	HiddenChannels int
	NumLayers      int
	Seed           int64
}

// TrainResult mirrors the wire shape of a completed training run.
type TrainResult struct {
	Metrics struct {
		Losses []float64 `json:"losses"`
	} `json:"metrics"`
	Epochs int `json:"epochs"`
}

// Train builds the graph, trains a fresh model and writes the checkpoint.
func (d *Detector) Train(ctx context.Context, payload *graph.Payload, opts TrainOptions) (*TrainResult, error) {
	g, err := graph.Build(payload)
	if err != nil {
		return nil, err
	}

	trainer := training.NewTrainer(d.logger)
	result, err := trainer.Train(ctx, g, training.Options{
		Epochs:         opts.Epochs,
		LearningRate:   opts.LearningRate,
		HiddenChannels: opts.HiddenChannels,
		NumLayers:      opts.NumLayers,
		Seed:           opts.Seed,
		ModelPath:      d.modelPath,
	})
	if err != nil {
		return nil, err
	}

	out := &TrainResult{Epochs: result.Epochs}
	out.Metrics.Losses = result.Losses
	return out, nil
}

// InferOptions configure pattern detection. MinConfidence is taken
// literally; zero keeps every pair.
type InferOptions struct {
	MinConfidence float64
	TopK          int

	// DuckDBPath, when set, additionally appends the detected patterns to
	// the patterns table of that database.
	DuckDBPath string
}

// InferResult is the ranked pattern list.
type InferResult struct {
	Patterns []detect.Pattern `json:"patterns"`
}

// DetectPatterns loads the checkpoint, scores every music/event pair and
// returns patterns at or above the confidence floor, ranked descending.
func (d *Detector) DetectPatterns(ctx context.Context, payload *graph.Payload, opts InferOptions) (*InferResult, error) {
	bundle, err := checkpoint.Load(d.modelPath)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(payload)
	if err != nil {
		return nil, err
	}

	patterns, err := detect.Patterns(bundle, g, opts.MinConfidence, opts.TopK)
	if err != nil {
		return nil, err
	}

	if opts.DuckDBPath != "" {
		if err := d.exportPatterns(ctx, bundle.ID, opts.DuckDBPath, patterns); err != nil {
			return nil, err
		}
	}
	return &InferResult{Patterns: patterns}, nil
}

// EmbedOptions configure embedding export.
type EmbedOptions struct {
	// DuckDBPath, when set, additionally appends the embeddings to the
	// node_embeddings table of that database.
	DuckDBPath string
}

// EmbedResult carries every node's final embedding plus its synthetic
// "{type}_{localIndex}" id.
type EmbedResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	NodeIDs    []string    `json:"nodeIds"`
}

// ExportEmbeddings loads the checkpoint, runs one forward pass and returns
// all final-layer embeddings. With a cache directory configured, identical
// (checkpoint, payload) calls are served from the cache.
func (d *Detector) ExportEmbeddings(ctx context.Context, payload *graph.Payload, opts EmbedOptions) (*EmbedResult, error) {
	bundle, err := checkpoint.Load(d.modelPath)
	if err != nil {
		return nil, err
	}

	var (
		store    *cache.Store
		cacheKey string
	)
	if d.cacheDir != "" {
		store, err = cache.Open(d.cacheDir)
		if err != nil {
			d.logger.Warn("embedding cache unavailable", "dir", d.cacheDir, "error", err)
		} else {
			defer store.Close()
			cacheKey, err = cache.Key(bundle.ID, payload)
			if err == nil {
				if entry, err := store.Get(cacheKey); err == nil {
					d.logger.Debug("embedding cache hit", "key", cacheKey)
					return &EmbedResult{Embeddings: entry.Embeddings, NodeIDs: entry.NodeIDs}, nil
				} else if !errors.Is(err, cache.ErrMiss) {
					d.logger.Warn("embedding cache read failed", "error", err)
				}
			}
		}
	}

	g, err := graph.Build(payload)
	if err != nil {
		return nil, err
	}
	embeddings, nodeIDs, err := detect.Embeddings(bundle, g)
	if err != nil {
		return nil, err
	}

	if store != nil && cacheKey != "" {
		if err := store.Put(cacheKey, &cache.Entry{Embeddings: embeddings, NodeIDs: nodeIDs}); err != nil {
			d.logger.Warn("embedding cache write failed", "error", err)
		}
	}

	if opts.DuckDBPath != "" {
		if err := d.exportEmbeddings(ctx, bundle.ID, opts.DuckDBPath, embeddings, nodeIDs); err != nil {
			return nil, err
		}
	}
	return &EmbedResult{Embeddings: embeddings, NodeIDs: nodeIDs}, nil
}

func (d *Detector) exportPatterns(ctx context.Context, checkpointID, path string, patterns []detect.Pattern) error {
	writer, err := export.NewDuckDBWriter(path)
	if err != nil {
		return err
	}
	defer writer.Close()
	if err := writer.WritePatterns(ctx, checkpointID, patterns); err != nil {
		return fmt.Errorf("duckdb export failed: %w", err)
	}
	return nil
}

func (d *Detector) exportEmbeddings(ctx context.Context, checkpointID, path string, embeddings [][]float64, nodeIDs []string) error {
	writer, err := export.NewDuckDBWriter(path)
	if err != nil {
		return err
	}
	defer writer.Close()
	if err := writer.WriteEmbeddings(ctx, checkpointID, embeddings, nodeIDs); err != nil {
		return fmt.Errorf("duckdb export failed: %w", err)
	}
	return nil
}

// CheckResult reports runtime and dependency diagnostics.
type CheckResult struct {
	GoVersion    string            `json:"goVersion"`
	Dependencies map[string]string `json:"dependencies"`
}

// checkModules is the dependency surface reported by Check.
var checkModules = []string{
	"gonum.org/v1/gonum",
	"github.com/viterin/vek",
	"github.com/dgraph-io/badger/v4",
	"github.com/duckdb/duckdb-go/v2",
	"github.com/gin-gonic/gin",
	"github.com/spf13/cobra",
}

// Check reports the Go runtime version and the resolved versions of the
// numeric and storage dependencies, mirroring the upstream health probe.
func (d *Detector) Check() *CheckResult {
	result := &CheckResult{
		GoVersion:    runtime.Version(),
		Dependencies: make(map[string]string, len(checkModules)),
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		for _, name := range checkModules {
			result.Dependencies[name] = "unknown"
		}
		return result
	}
	versions := make(map[string]string, len(info.Deps))
	for _, dep := range info.Deps {
		versions[dep.Path] = dep.Version
	}
	for _, name := range checkModules {
		if v, ok := versions[name]; ok {
			result.Dependencies[name] = v
		} else {
			result.Dependencies[name] = "unknown"
		}
	}
	return result
}
