package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/soundprediction/go-behaviorgraph/pkg/checkpoint"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/nn"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

// Options configure one training run. Zero values fall back to the defaults
// the upstream callers rely on.
type Options struct {
	Epochs         int
	LearningRate   float64
	HiddenChannels int
	NumLayers      int
	NumHeads       int
	Dropout        float64

	// Seed fixes every random draw (init, dropout, negative sampling).
	// Zero seeds from the clock.
	Seed int64

	// ModelPath is where the checkpoint bundle is written after the full
	// epoch loop. Empty uses checkpoint.DefaultPath.
	ModelPath string
}

func (o Options) withDefaults() Options {
	if o.Epochs <= 0 {
		o.Epochs = 100
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.001
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Result reports the per-epoch loss sequence and the written checkpoint.
type Result struct {
	Losses []float64
	Epochs int
	Bundle *checkpoint.Bundle
}

// NumericalError marks a diverged run. No checkpoint is written; the caller
// should lower the learning rate or inspect the input graph.
type NumericalError struct {
	Epoch int
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("numerical error: non-finite loss at epoch %d", e.Epoch)
}

// Trainer drives the contrastive training loop over one graph.
type Trainer struct {
	logger *slog.Logger
}

// NewTrainer creates a trainer. A nil logger falls back to slog.Default.
func NewTrainer(logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{logger: logger}
}

// Train builds a model from the graph's vocabulary, runs the epoch loop and
// writes the checkpoint bundle once the loop completes.
func (t *Trainer) Train(ctx context.Context, g *graph.Graph, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))

	cfg := nn.Config{
		HiddenChannels: opts.HiddenChannels,
		NumLayers:      opts.NumLayers,
		NumHeads:       opts.NumHeads,
		Dropout:        opts.Dropout,
	}
	model, err := nn.New(cfg, g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rng)
	if err != nil {
		return nil, err
	}
	params := model.Parameters()
	optimizer := NewAdam(opts.LearningRate)

	if _, ok := g.PrecedesKey(); !ok {
		t.logger.Warn("graph has no PRECEDES edges; every epoch will report zero loss",
			"edge_types", len(g.EdgeTypes))
	}

	losses := make([]float64, 0, opts.Epochs)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tp := tensor.NewTape()
		embeddings := model.Forward(tp, g, true, rng)
		loss, ok := contrastiveLoss(tp, embeddings, g, rng)
		if !ok {
			losses = append(losses, 0)
			continue
		}

		value := loss.Scalar()
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, &NumericalError{Epoch: epoch}
		}

		optimizer.ZeroGrad(params)
		tp.Backward(loss)
		optimizer.Step(params)
		losses = append(losses, value)

		if epoch%10 == 0 {
			t.logger.Debug("training epoch", "epoch", epoch, "epochs", opts.Epochs, "loss", value)
		}
	}

	for _, p := range params {
		if p.Value.HasNaN() {
			return nil, &NumericalError{Epoch: opts.Epochs}
		}
	}

	bundle := checkpoint.New(
		model.Config.HiddenChannels,
		model.Config.NumLayers,
		model.Config.NumHeads,
		model.NodeTypes,
		model.EdgeTypes,
		model.FeatureDims,
	)
	for _, p := range params {
		bundle.Params[p.Name] = checkpoint.FromDense(p.Value.Data)
	}
	path := opts.ModelPath
	if path == "" {
		path = checkpoint.DefaultPath
	}
	if err := checkpoint.Save(bundle, path); err != nil {
		return nil, err
	}
	t.logger.Info("checkpoint persisted", "path", path, "epochs", opts.Epochs, "params", len(params))

	return &Result{Losses: losses, Epochs: opts.Epochs, Bundle: bundle}, nil
}
