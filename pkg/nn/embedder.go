package nn

import (
	"math/rand"

	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

const embedderDropout = 0.1

// TypeEmbedder projects each node type's raw feature matrix into the shared
// hidden dimensionality. Projections form an explicit per-type registry so
// the parameter set can be validated against a checkpoint's vocabulary.
type TypeEmbedder struct {
	hidden      int
	order       []string
	projections map[string]*Linear
}

// NewTypeEmbedder builds one projection per node type. featureDims maps each
// type to its raw input width.
func NewTypeEmbedder(hidden int, nodeTypes []string, featureDims map[string]int, rng *rand.Rand) *TypeEmbedder {
	e := &TypeEmbedder{
		hidden:      hidden,
		order:       append([]string(nil), nodeTypes...),
		projections: make(map[string]*Linear, len(nodeTypes)),
	}
	for _, nodeType := range nodeTypes {
		dim := featureDims[nodeType]
		if dim <= 0 {
			dim = 3 // upstream collectors default to 3 features per node
		}
		e.projections[nodeType] = NewLinear(dim, hidden, rng)
	}
	return e
}

// Embed projects one type's feature matrix. The second return is false when
// the type has no registered projection; callers drop such types from the
// downstream computation rather than failing (see the inference contract).
func (e *TypeEmbedder) Embed(tp *tensor.Tape, nodeType string, features *tensor.Value, training bool, rng *rand.Rand) (*tensor.Value, bool) {
	proj, ok := e.projections[nodeType]
	if !ok {
		return nil, false
	}
	h := tp.ReLU(proj.Forward(tp, features))
	if training {
		h = tp.Dropout(h, embedderDropout, rng)
	}
	return h, true
}

// Knows reports whether the embedder has a projection for the type.
func (e *TypeEmbedder) Knows(nodeType string) bool {
	_, ok := e.projections[nodeType]
	return ok
}

func (e *TypeEmbedder) namedParams() []NamedParam {
	var params []NamedParam
	for _, nodeType := range e.order {
		params = append(params, e.projections[nodeType].namedParams("embed."+nodeType)...)
	}
	return params
}
