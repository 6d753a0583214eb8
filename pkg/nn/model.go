package nn

import (
	"fmt"
	"math/rand"

	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
	"gonum.org/v1/gonum/mat"
)

// Config holds the model hyperparameters.
type Config struct {
	HiddenChannels int
	NumLayers      int
	NumHeads       int
	Dropout        float64
}

// DefaultConfig mirrors the hyperparameters the production detector ships
// with.
func DefaultConfig() Config {
	return Config{
		HiddenChannels: 128,
		NumLayers:      4,
		NumHeads:       8,
		Dropout:        0.1,
	}
}

// withDefaults fills zero fields so partially specified configs stay usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HiddenChannels <= 0 {
		c.HiddenChannels = d.HiddenChannels
	}
	if c.NumLayers <= 0 {
		c.NumLayers = d.NumLayers
	}
	if c.NumHeads <= 0 {
		c.NumHeads = d.NumHeads
	}
	if c.Dropout <= 0 {
		c.Dropout = d.Dropout
	}
	return c
}

// Model is the full behavior-graph network: type embedder, a stack of
// attention layers and the correlation head. Its parameter set is derived
// from the type vocabulary passed at construction, so a model rebuilt from a
// checkpoint must be given the checkpoint's recorded vocabulary.
type Model struct {
	Config      Config
	NodeTypes   []string
	EdgeTypes   []graph.EdgeKey
	FeatureDims map[string]int

	embedder *TypeEmbedder
	layers   []*AttentionLayer
	head     *CorrelationHead
}

// New constructs a model for the given type vocabulary. All weights are
// drawn from rng, so a fixed seed yields identical initialization.
func New(cfg Config, nodeTypes []string, edgeTypes []graph.EdgeKey, featureDims map[string]int, rng *rand.Rand) (*Model, error) {
	cfg = cfg.withDefaults()
	if len(nodeTypes) == 0 {
		return nil, fmt.Errorf("model requires at least one node type")
	}

	m := &Model{
		Config:      cfg,
		NodeTypes:   append([]string(nil), nodeTypes...),
		EdgeTypes:   append([]graph.EdgeKey(nil), edgeTypes...),
		FeatureDims: featureDims,
		embedder:    NewTypeEmbedder(cfg.HiddenChannels, nodeTypes, featureDims, rng),
		head:        NewCorrelationHead(cfg.HiddenChannels, cfg.Dropout, rng),
	}
	for i := 0; i < cfg.NumLayers; i++ {
		layer, err := NewAttentionLayer(cfg.HiddenChannels, cfg.NumHeads, nodeTypes, edgeTypes, rng)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers = append(m.layers, layer)
	}
	return m, nil
}

// Forward runs the embedder and every attention layer over the graph,
// returning per-type embedding matrices. Node types the model does not know
// are dropped from the result; edge types it does not know are ignored.
func (m *Model) Forward(tp *tensor.Tape, g *graph.Graph, training bool, rng *rand.Rand) map[string]*tensor.Value {
	x := make(map[string]*tensor.Value)
	for _, nodeType := range m.NodeTypes {
		features, ok := g.Features[nodeType]
		if !ok {
			continue
		}
		h, ok := m.embedder.Embed(tp, nodeType, tensor.NewConstant(features), training, rng)
		if !ok {
			continue
		}
		x[nodeType] = h
	}

	for _, layer := range m.layers {
		x = layer.Forward(tp, x, g.Edges)
	}
	return x
}

// Score applies the correlation head to row-aligned pair matrices.
func (m *Model) Score(tp *tensor.Tape, a, b *tensor.Value, training bool, rng *rand.Rand) *tensor.Value {
	return m.head.Score(tp, a, b, training, rng)
}

// Parameters returns every trainable parameter with its checkpoint key, in a
// deterministic order.
func (m *Model) Parameters() []NamedParam {
	var params []NamedParam
	params = append(params, m.embedder.namedParams()...)
	for i, layer := range m.layers {
		params = append(params, layer.namedParams(fmt.Sprintf("layers.%d", i))...)
	}
	params = append(params, m.head.namedParams()...)
	return params
}

// LoadState copies checkpointed parameter matrices into the model. Every
// model parameter must be present with a matching shape.
func (m *Model) LoadState(state map[string]*mat.Dense) error {
	for _, p := range m.Parameters() {
		src, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", p.Name)
		}
		wr, wc := p.Value.Data.Dims()
		sr, sc := src.Dims()
		if wr != sr || wc != sc {
			return fmt.Errorf("parameter %q has shape %dx%d, checkpoint holds %dx%d", p.Name, wr, wc, sr, sc)
		}
		p.Value.Data.Copy(src)
	}
	return nil
}
