// Package checkpoint persists trained models as self-describing bundles.
// A bundle carries the type vocabulary and hyperparameters alongside the
// parameters, because layer construction depends on the vocabulary recorded
// at training time; parameters alone cannot reconstruct the model.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"gonum.org/v1/gonum/mat"
)

// DefaultPath is where checkpoints land unless the caller supplies a path.
const DefaultPath = "models/gnn_pattern_detector.pth"

// Tensor is a dense matrix in row-major wire form.
type Tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// FromDense converts a gonum matrix into wire form.
func FromDense(m *mat.Dense) Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Tensor{Rows: r, Cols: c, Data: data}
}

// Dense converts the wire form back into a gonum matrix.
func (t Tensor) Dense() (*mat.Dense, error) {
	if t.Rows <= 0 || t.Cols <= 0 || len(t.Data) != t.Rows*t.Cols {
		return nil, fmt.Errorf("tensor claims %dx%d but carries %d values", t.Rows, t.Cols, len(t.Data))
	}
	return mat.NewDense(t.Rows, t.Cols, append([]float64(nil), t.Data...)), nil
}

// Bundle is the persisted model: vocabulary, hyperparameters and parameters,
// validated as a unit on load.
type Bundle struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	HiddenChannels int `json:"hidden_channels"`
	NumLayers      int `json:"num_layers"`
	NumHeads       int `json:"num_heads"`

	NodeTypes   []string          `json:"node_types"`
	EdgeTypes   []string          `json:"edge_types"`
	FeatureDims map[string]int    `json:"feature_dims"`
	Params      map[string]Tensor `json:"params"`
}

// MismatchError reports a bundle whose recorded vocabulary or parameters do
// not line up with runtime expectations.
type MismatchError struct {
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checkpoint mismatch: %s", e.Reason)
}

// New assembles a bundle with a fresh id.
func New(hiddenChannels, numLayers, numHeads int, nodeTypes []string, edgeTypes []graph.EdgeKey, featureDims map[string]int) *Bundle {
	keys := make([]string, len(edgeTypes))
	for i, key := range edgeTypes {
		keys[i] = key.String()
	}
	return &Bundle{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		HiddenChannels: hiddenChannels,
		NumLayers:      numLayers,
		NumHeads:       numHeads,
		NodeTypes:      nodeTypes,
		EdgeTypes:      keys,
		FeatureDims:    featureDims,
		Params:         make(map[string]Tensor),
	}
}

// Validate checks the bundle's internal consistency before any model is
// reconstructed from it.
func (b *Bundle) Validate() error {
	if b.HiddenChannels <= 0 || b.NumLayers <= 0 || b.NumHeads <= 0 {
		return &MismatchError{Reason: fmt.Sprintf(
			"invalid hyperparameters (hidden=%d layers=%d heads=%d)",
			b.HiddenChannels, b.NumLayers, b.NumHeads)}
	}
	if len(b.NodeTypes) == 0 {
		return &MismatchError{Reason: "no node types recorded"}
	}
	for _, nodeType := range b.NodeTypes {
		if dim, ok := b.FeatureDims[nodeType]; !ok || dim <= 0 {
			return &MismatchError{Reason: fmt.Sprintf("missing feature dimension for node type %q", nodeType)}
		}
	}
	for _, key := range b.EdgeTypes {
		if _, err := graph.ParseEdgeKey(key); err != nil {
			return &MismatchError{Reason: err.Error()}
		}
	}
	if len(b.Params) == 0 {
		return &MismatchError{Reason: "no parameters recorded"}
	}
	return nil
}

// EdgeKeys parses the recorded edge-type vocabulary.
func (b *Bundle) EdgeKeys() ([]graph.EdgeKey, error) {
	keys := make([]graph.EdgeKey, len(b.EdgeTypes))
	for i, s := range b.EdgeTypes {
		key, err := graph.ParseEdgeKey(s)
		if err != nil {
			return nil, &MismatchError{Reason: err.Error()}
		}
		keys[i] = key
	}
	return keys, nil
}

// State converts the parameter map into gonum matrices.
func (b *Bundle) State() (map[string]*mat.Dense, error) {
	state := make(map[string]*mat.Dense, len(b.Params))
	for name, t := range b.Params {
		m, err := t.Dense()
		if err != nil {
			return nil, &MismatchError{Reason: fmt.Sprintf("parameter %q: %v", name, err)}
		}
		state[name] = m
	}
	return state, nil
}

// Save writes the bundle atomically, creating the directory if needed.
func Save(b *Bundle, path string) error {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return nil
}

// Load reads and validates a bundle.
func Load(path string) (*Bundle, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
