package behaviorgraph

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn with stdout redirected to a pipe and returns what it
// wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var execErr error
	out := captureStdout(t, func() {
		rootCmd.SetArgs(args)
		execErr = Execute()
	})
	return out, execErr
}

func TestExecuteSerializesDispatchFailures(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown subcommand", args: []string{"bogus", "{}"}},
		{name: "missing argument", args: []string{"infer"}},
		{name: "unknown flag", args: []string{"version", "--no-such-flag"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.args...)
			require.Error(t, err)

			var body map[string]string
			require.NoError(t, json.Unmarshal([]byte(out), &body), "stdout %q is not one JSON document", out)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestExecuteEmitsErrorEnvelopeExactlyOnce(t *testing.T) {
	// A failure inside a command goes through fail, which already writes the
	// envelope; Execute must not write a second one.
	out, err := runCLI(t, "train", `{}`)
	require.Error(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body), "stdout %q is not one JSON document", out)
	assert.Contains(t, body["error"], "graphData")
}

func TestReadBlob(t *testing.T) {
	t.Run("strict JSON passes through", func(t *testing.T) {
		blob, err := readBlob([]string{`{"graphData": {"nodes": []}}`})
		require.NoError(t, err)
		assert.JSONEq(t, `{"graphData": {"nodes": []}}`, string(blob))
	})

	t.Run("sloppy JSON is repaired", func(t *testing.T) {
		// Single quotes and a trailing comma, as emitted by careless glue
		// scripts.
		blob, err := readBlob([]string{`{'minConfidence': 0.5, 'topK': 3,}`})
		require.NoError(t, err)
		assert.JSONEq(t, `{"minConfidence": 0.5, "topK": 3}`, string(blob))
	})

	t.Run("missing argument", func(t *testing.T) {
		_, err := readBlob(nil)
		assert.Error(t, err)
	})
}

func TestDecodeTrainRequest(t *testing.T) {
	var req trainRequest
	err := decodeRequest([]string{`{
		"modelPath": "/tmp/model.pth",
		"graphData": {"nodes": [{"id": "m1", "type": "MusicActivity", "features": [1, 2, 3]}]},
		"epochs": 20,
		"seed": 42
	}`}, &req)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/model.pth", req.ModelPath)
	require.NotNil(t, req.GraphData)
	require.Len(t, req.GraphData.Nodes, 1)
	assert.Equal(t, "m1", req.GraphData.Nodes[0].ID)

	require.NotNil(t, req.Epochs)
	assert.Equal(t, 20, *req.Epochs)
	assert.Equal(t, int64(42), req.Seed)

	// Omitted fields stay nil so config defaults apply downstream.
	assert.Nil(t, req.LearningRate)
	assert.Nil(t, req.HiddenChannels)
	assert.Nil(t, req.NumLayers)
}

func TestDecodeInferRequestHonorsExplicitZero(t *testing.T) {
	var req inferRequest
	err := decodeRequest([]string{`{"graphData": {"nodes": []}, "minConfidence": 0, "topK": 0}`}, &req)
	require.NoError(t, err)

	// An explicit zero must be distinguishable from an omitted field: zero
	// confidence keeps every pair, zero topK disables truncation.
	require.NotNil(t, req.MinConfidence)
	assert.Zero(t, *req.MinConfidence)
	require.NotNil(t, req.TopK)
	assert.Zero(t, *req.TopK)

	var omitted inferRequest
	err = decodeRequest([]string{`{"graphData": {"nodes": []}}`}, &omitted)
	require.NoError(t, err)
	assert.Nil(t, omitted.MinConfidence)
	assert.Nil(t, omitted.TopK)
}
