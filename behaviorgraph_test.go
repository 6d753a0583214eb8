package behaviorgraph_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	behaviorgraph "github.com/soundprediction/go-behaviorgraph"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
)

func pairPayload() *graph.Payload {
	return &graph.Payload{
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
	}
}

func smallTrainOptions() behaviorgraph.TrainOptions {
	return behaviorgraph.TrainOptions{
		Epochs:         5,
		LearningRate:   0.01,
		HiddenChannels: 8,
		NumLayers:      1,
		Seed:           42,
	}
}

func TestDetectorEndToEnd(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.pth")
	detector := behaviorgraph.NewDetector(
		behaviorgraph.WithModelPath(modelPath),
		behaviorgraph.WithCacheDir(filepath.Join(dir, "cache")),
	)
	ctx := context.Background()

	trained, err := detector.Train(ctx, pairPayload(), smallTrainOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, trained.Epochs)
	assert.Len(t, trained.Metrics.Losses, 5)
	_, err = os.Stat(modelPath)
	require.NoError(t, err)

	inferred, err := detector.DetectPatterns(ctx, pairPayload(), behaviorgraph.InferOptions{
		MinConfidence: 0,
		TopK:          10,
	})
	require.NoError(t, err)
	require.Len(t, inferred.Patterns, 4)
	for i := 1; i < len(inferred.Patterns); i++ {
		assert.GreaterOrEqual(t, inferred.Patterns[i-1].Correlation, inferred.Patterns[i].Correlation)
	}

	embedded, err := detector.ExportEmbeddings(ctx, pairPayload(), behaviorgraph.EmbedOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"MusicActivity_0", "MusicActivity_1",
		"CalendarEvent_0", "CalendarEvent_1",
	}, embedded.NodeIDs)
	require.Len(t, embedded.Embeddings, 4)
	for _, emb := range embedded.Embeddings {
		assert.Len(t, emb, 8)
	}

	// Second export of the identical payload is served from the cache and
	// must return the same result.
	cached, err := detector.ExportEmbeddings(ctx, pairPayload(), behaviorgraph.EmbedOptions{})
	require.NoError(t, err)
	assert.Equal(t, embedded, cached)
}

func TestDetectorExportsToDuckDB(t *testing.T) {
	dir := t.TempDir()
	detector := behaviorgraph.NewDetector(
		behaviorgraph.WithModelPath(filepath.Join(dir, "model.pth")),
	)
	ctx := context.Background()

	_, err := detector.Train(ctx, pairPayload(), smallTrainOptions())
	require.NoError(t, err)

	dbPath := filepath.Join(dir, "results.duckdb")
	_, err = detector.DetectPatterns(ctx, pairPayload(), behaviorgraph.InferOptions{
		MinConfidence: 0,
		DuckDBPath:    dbPath,
	})
	require.NoError(t, err)

	_, err = detector.ExportEmbeddings(ctx, pairPayload(), behaviorgraph.EmbedOptions{
		DuckDBPath: dbPath,
	})
	require.NoError(t, err)

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDetectPatternsWithoutCheckpoint(t *testing.T) {
	detector := behaviorgraph.NewDetector(
		behaviorgraph.WithModelPath(filepath.Join(t.TempDir(), "absent.pth")),
	)

	_, err := detector.DetectPatterns(context.Background(), pairPayload(), behaviorgraph.InferOptions{})
	assert.Error(t, err)
}

func TestTrainRejectsMalformedPayload(t *testing.T) {
	detector := behaviorgraph.NewDetector(
		behaviorgraph.WithModelPath(filepath.Join(t.TempDir(), "model.pth")),
	)

	_, err := detector.Train(context.Background(), &graph.Payload{}, smallTrainOptions())
	require.Error(t, err)
	var schemaErr *graph.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestConfidenceFloorFiltersPatterns(t *testing.T) {
	detector := behaviorgraph.NewDetector(
		behaviorgraph.WithModelPath(filepath.Join(t.TempDir(), "model.pth")),
	)
	ctx := context.Background()

	_, err := detector.Train(ctx, pairPayload(), smallTrainOptions())
	require.NoError(t, err)

	all, err := detector.DetectPatterns(ctx, pairPayload(), behaviorgraph.InferOptions{MinConfidence: 0})
	require.NoError(t, err)
	none, err := detector.DetectPatterns(ctx, pairPayload(), behaviorgraph.InferOptions{MinConfidence: 1.1})
	require.NoError(t, err)

	assert.Len(t, all.Patterns, 4)
	assert.Empty(t, none.Patterns)
}

func TestCheck(t *testing.T) {
	result := behaviorgraph.NewDetector().Check()

	assert.NotEmpty(t, result.GoVersion)
	require.NotEmpty(t, result.Dependencies)
	assert.Contains(t, result.Dependencies, "gonum.org/v1/gonum")
	assert.Contains(t, result.Dependencies, "github.com/dgraph-io/badger/v4")
}
