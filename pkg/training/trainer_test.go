package training_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-behaviorgraph/pkg/checkpoint"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/training"
)

func precedesGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Build(&graph.Payload{
		Nodes: []graph.NodePayload{
			{ID: "m1", Type: graph.MusicActivityNodeType, Features: []float64{0.1, 0.2, 0.3}},
			{ID: "m2", Type: graph.MusicActivityNodeType, Features: []float64{0.4, 0.5, 0.6}},
			{ID: "e1", Type: graph.CalendarEventNodeType, Features: []float64{1, 0, 1}},
			{ID: "e2", Type: graph.CalendarEventNodeType, Features: []float64{0, 1, 0}},
		},
		Edges: []graph.EdgePayload{
			{Source: "m1", Target: "e1", Type: "PRECEDES"},
			{Source: "m2", Target: "e2", Type: "PRECEDES"},
		},
	})
	require.NoError(t, err)
	return g
}

func smallOptions(t *testing.T, seed int64) training.Options {
	t.Helper()
	return training.Options{
		Epochs:         5,
		LearningRate:   0.01,
		HiddenChannels: 8,
		NumLayers:      1,
		NumHeads:       2,
		Dropout:        0.1,
		Seed:           seed,
		ModelPath:      filepath.Join(t.TempDir(), "model.pth"),
	}
}

func TestTrainWritesCheckpoint(t *testing.T) {
	g := precedesGraph(t)
	opts := smallOptions(t, 42)

	result, err := training.NewTrainer(nil).Train(context.Background(), g, opts)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Epochs)
	require.Len(t, result.Losses, 5)
	for _, loss := range result.Losses {
		assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	}

	loaded, err := checkpoint.Load(opts.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, result.Bundle.ID, loaded.ID)
	assert.Equal(t, 8, loaded.HiddenChannels)
	assert.Equal(t, 1, loaded.NumLayers)
	assert.Equal(t, 2, loaded.NumHeads)
	assert.Equal(t, g.NodeTypes, loaded.NodeTypes)
	assert.Equal(t, []string{"MusicActivity|PRECEDES|CalendarEvent"}, loaded.EdgeTypes)
	assert.Equal(t, len(result.Bundle.Params), len(loaded.Params))
}

func TestTrainIsDeterministicForAFixedSeed(t *testing.T) {
	first, err := training.NewTrainer(nil).Train(context.Background(), precedesGraph(t), smallOptions(t, 42))
	require.NoError(t, err)
	second, err := training.NewTrainer(nil).Train(context.Background(), precedesGraph(t), smallOptions(t, 42))
	require.NoError(t, err)

	require.Equal(t, len(first.Losses), len(second.Losses))
	for i := range first.Losses {
		assert.Equal(t, first.Losses[i], second.Losses[i], "loss diverged at epoch %d", i)
	}
	for name, tensor := range first.Bundle.Params {
		assert.Equal(t, tensor.Data, second.Bundle.Params[name].Data, "parameter %s diverged", name)
	}
}

func TestTrainWithoutPrecedesEdgesReportsZeroLoss(t *testing.T) {
	g, err := graph.Build(&graph.Payload{
		Nodes: []graph.NodePayload{
			{ID: "m1", Type: graph.MusicActivityNodeType, Features: []float64{0.1, 0.2, 0.3}},
			{ID: "e1", Type: graph.CalendarEventNodeType, Features: []float64{1, 0, 1}},
		},
		Edges: []graph.EdgePayload{
			{Source: "m1", Target: "e1", Type: "ATTENDED"},
		},
	})
	require.NoError(t, err)

	opts := smallOptions(t, 7)
	result, err := training.NewTrainer(nil).Train(context.Background(), g, opts)
	require.NoError(t, err)

	require.Len(t, result.Losses, 5)
	for _, loss := range result.Losses {
		assert.Zero(t, loss)
	}

	// The untrained model is still persisted.
	_, err = checkpoint.Load(opts.ModelPath)
	assert.NoError(t, err)
}

func TestTrainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := training.NewTrainer(nil).Train(ctx, precedesGraph(t), smallOptions(t, 42))
	assert.ErrorIs(t, err, context.Canceled)
}
