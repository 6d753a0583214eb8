package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

// relationProjections holds the learned key/query/value transforms for one
// edge type.
type relationProjections struct {
	key   *Linear
	query *Linear
	value *Linear
}

// AttentionLayer performs one round of type-aware message passing. For every
// edge type (S, r, T), target nodes attend over their incoming S-neighbors
// with multi-head scaled dot-product attention; messages from all edge types
// targeting T are summed and added to a per-type self projection, followed by
// a ReLU. Heads are concatenated back to the hidden width.
type AttentionLayer struct {
	hidden  int
	heads   int
	headDim int

	edgeOrder []graph.EdgeKey
	relations map[graph.EdgeKey]*relationProjections

	nodeOrder []string
	self      map[string]*Linear
}

// NewAttentionLayer derives the layer's parameter set from the graph's type
// vocabulary. hidden must be divisible by heads.
func NewAttentionLayer(hidden, heads int, nodeTypes []string, edgeTypes []graph.EdgeKey, rng *rand.Rand) (*AttentionLayer, error) {
	if heads <= 0 || hidden%heads != 0 {
		return nil, fmt.Errorf("hidden channels %d not divisible by %d heads", hidden, heads)
	}
	l := &AttentionLayer{
		hidden:    hidden,
		heads:     heads,
		headDim:   hidden / heads,
		edgeOrder: append([]graph.EdgeKey(nil), edgeTypes...),
		relations: make(map[graph.EdgeKey]*relationProjections, len(edgeTypes)),
		nodeOrder: append([]string(nil), nodeTypes...),
		self:      make(map[string]*Linear, len(nodeTypes)),
	}
	for _, key := range edgeTypes {
		l.relations[key] = &relationProjections{
			key:   NewLinear(hidden, hidden, rng),
			query: NewLinear(hidden, hidden, rng),
			value: NewLinear(hidden, hidden, rng),
		}
	}
	for _, nodeType := range nodeTypes {
		l.self[nodeType] = NewLinear(hidden, hidden, rng)
	}
	return l, nil
}

// Forward propagates one layer. x maps node type to its current embedding
// matrix; edges maps edge type to resolved index pairs. Types absent from x
// (dropped at embedding time) contribute no messages and receive none.
func (l *AttentionLayer) Forward(tp *tensor.Tape, x map[string]*tensor.Value, edges map[graph.EdgeKey]*graph.EdgeIndex) map[string]*tensor.Value {
	aggregates := make(map[string]*tensor.Value)

	for _, key := range l.edgeOrder {
		index, ok := edges[key]
		if !ok || index.Len() == 0 {
			continue
		}
		source, ok := x[key.SourceType]
		if !ok {
			continue
		}
		target, ok := x[key.TargetType]
		if !ok {
			continue
		}

		message := l.propagate(tp, l.relations[key], source, target, index)
		if prev, ok := aggregates[key.TargetType]; ok {
			aggregates[key.TargetType] = tp.Add(prev, message)
		} else {
			aggregates[key.TargetType] = message
		}
	}

	out := make(map[string]*tensor.Value, len(x))
	for _, nodeType := range l.nodeOrder {
		h, ok := x[nodeType]
		if !ok {
			continue
		}
		updated := l.self[nodeType].Forward(tp, h)
		if agg, ok := aggregates[nodeType]; ok {
			updated = tp.Add(updated, agg)
		}
		out[nodeType] = tp.ReLU(updated)
	}
	return out
}

// propagate computes the multi-head attention message for one edge type.
func (l *AttentionLayer) propagate(tp *tensor.Tape, proj *relationProjections, source, target *tensor.Value, index *graph.EdgeIndex) *tensor.Value {
	numTargets, _ := target.Dims()

	keys := tp.GatherRows(proj.key.Forward(tp, source), index.Sources)
	queries := tp.GatherRows(proj.query.Forward(tp, target), index.Targets)
	values := tp.GatherRows(proj.value.Forward(tp, source), index.Sources)

	scale := 1 / math.Sqrt(float64(l.headDim))
	var message *tensor.Value
	for h := 0; h < l.heads; h++ {
		from, to := h*l.headDim, (h+1)*l.headDim
		k := tp.SliceCols(keys, from, to)
		q := tp.SliceCols(queries, from, to)
		v := tp.SliceCols(values, from, to)

		scores := tp.Scale(tp.RowDot(q, k), scale)
		attn := tp.SegmentSoftmax(scores, index.Targets, numTargets)
		head := tp.SegmentWeightedSum(attn, v, index.Targets, numTargets)

		if message == nil {
			message = head
		} else {
			message = tp.ConcatCols(message, head)
		}
	}
	return message
}

func (l *AttentionLayer) namedParams(prefix string) []NamedParam {
	var params []NamedParam
	for _, key := range l.edgeOrder {
		proj := l.relations[key]
		rel := prefix + ".rel." + key.String()
		params = append(params, proj.key.namedParams(rel+".key")...)
		params = append(params, proj.query.namedParams(rel+".query")...)
		params = append(params, proj.value.namedParams(rel+".value")...)
	}
	for _, nodeType := range l.nodeOrder {
		params = append(params, l.self[nodeType].namedParams(prefix+".self."+nodeType)...)
	}
	return params
}
