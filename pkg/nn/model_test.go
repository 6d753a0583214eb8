package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/nn"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

func testGraph(t *testing.T) *graph.Graph {
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
			{Source: "m2", Target: "e1", Type: "PRECEDES"},
		},
	})
	require.NoError(t, err)
	return g
}

func testConfig() nn.Config {
	return nn.Config{HiddenChannels: 16, NumLayers: 2, NumHeads: 4, Dropout: 0.1}
}

func TestNewRejectsIndivisibleHeads(t *testing.T) {
	g := testGraph(t)
	cfg := nn.Config{HiddenChannels: 10, NumLayers: 1, NumHeads: 3, Dropout: 0.1}
	_, err := nn.New(cfg, g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not divisible")
}

func TestNewRequiresNodeTypes(t *testing.T) {
	_, err := nn.New(testConfig(), nil, nil, nil, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestForwardShapes(t *testing.T) {
	g := testGraph(t)
	model, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	tp := tensor.NewTape()
	out := model.Forward(tp, g, false, nil)
	require.Len(t, out, 2)

	r, c := out[graph.MusicActivityNodeType].Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 16, c)
	r, c = out[graph.CalendarEventNodeType].Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 16, c)
}

func TestForwardDropsUnknownNodeTypes(t *testing.T) {
	g := testGraph(t)
	model, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	wider, err := graph.Build(&graph.Payload{
		Nodes: []graph.NodePayload{
			{ID: "m1", Type: graph.MusicActivityNodeType, Features: []float64{0.1, 0.2, 0.3}},
			{ID: "x1", Type: "Workout", Features: []float64{1, 2}},
		},
	})
	require.NoError(t, err)

	tp := tensor.NewTape()
	out := model.Forward(tp, wider, false, nil)
	assert.Contains(t, out, graph.MusicActivityNodeType)
	assert.NotContains(t, out, "Workout")
}

func TestForwardWithoutEdgesStillUpdates(t *testing.T) {
	g, err := graph.Build(&graph.Payload{
		Nodes: []graph.NodePayload{
			{ID: "m1", Type: graph.MusicActivityNodeType, Features: []float64{0.1, 0.2, 0.3}},
			{ID: "e1", Type: graph.CalendarEventNodeType, Features: []float64{1, 0, 1}},
		},
	})
	require.NoError(t, err)

	model, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	tp := tensor.NewTape()
	out := model.Forward(tp, g, false, nil)
	require.Len(t, out, 2)
	for _, emb := range out {
		assert.False(t, emb.HasNaN())
	}
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	g := testGraph(t)
	model, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	tp := tensor.NewTape()
	out := model.Forward(tp, g, false, nil)
	scores := model.Score(tp, out[graph.MusicActivityNodeType], out[graph.CalendarEventNodeType], false, nil)

	rows, cols := scores.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 1, cols)
	for i := 0; i < rows; i++ {
		s := scores.Data.At(i, 0)
		assert.Greater(t, s, 0.0)
		assert.Less(t, s, 1.0)
	}
}

func TestParametersAreNamedDeterministically(t *testing.T) {
	g := testGraph(t)
	build := func(seed int64) []nn.NamedParam {
		model, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		return model.Parameters()
	}

	first := build(1)
	second := build(2)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}

	names := make(map[string]bool, len(first))
	for _, p := range first {
		assert.False(t, names[p.Name], "duplicate parameter name %s", p.Name)
		names[p.Name] = true
	}
	assert.Contains(t, names, "embed.MusicActivity.weight")
	assert.Contains(t, names, "layers.0.rel.MusicActivity|PRECEDES|CalendarEvent.query.weight")
	assert.Contains(t, names, "layers.1.self.CalendarEvent.bias")
	assert.Contains(t, names, "head.fc3.bias")
}

func TestLoadState(t *testing.T) {
	g := testGraph(t)
	source, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(10)))
	require.NoError(t, err)
	target, err := nn.New(testConfig(), g.NodeTypes, g.EdgeTypes, g.FeatureDims(), rand.New(rand.NewSource(20)))
	require.NoError(t, err)

	state := make(map[string]*mat.Dense)
	for _, p := range source.Parameters() {
		state[p.Name] = mat.DenseCopyOf(p.Value.Data)
	}
	require.NoError(t, target.LoadState(state))

	tp1 := tensor.NewTape()
	tp2 := tensor.NewTape()
	out1 := source.Forward(tp1, g, false, nil)
	out2 := target.Forward(tp2, g, false, nil)
	for nodeType, emb := range out1 {
		assert.True(t, mat.EqualApprox(emb.Data, out2[nodeType].Data, 1e-12), "embeddings differ for %s", nodeType)
	}

	t.Run("missing parameter", func(t *testing.T) {
		incomplete := make(map[string]*mat.Dense)
		for name, m := range state {
			incomplete[name] = m
		}
		delete(incomplete, "head.fc3.bias")
		err := target.LoadState(incomplete)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "head.fc3.bias")
	})

	t.Run("shape mismatch", func(t *testing.T) {
		wrong := make(map[string]*mat.Dense)
		for name, m := range state {
			wrong[name] = m
		}
		wrong["head.fc3.bias"] = mat.NewDense(1, 2, nil)
		assert.Error(t, target.LoadState(wrong))
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := nn.DefaultConfig()
	assert.Equal(t, 128, cfg.HiddenChannels)
	assert.Equal(t, 4, cfg.NumLayers)
	assert.Equal(t, 8, cfg.NumHeads)
	assert.InDelta(t, 0.1, cfg.Dropout, 1e-12)
}
