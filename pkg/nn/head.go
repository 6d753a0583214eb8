package nn

import (
	"math/rand"

	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

// Correlation head widths, matching the trained production model.
const (
	headHidden1 = 256
	headHidden2 = 128
)

// CorrelationHead scores a directed pair of node embeddings as a correlation
// probability in (0,1). It is trained on "source precedes target" pairs, so
// argument order matters: the music-activity embedding comes first.
type CorrelationHead struct {
	dropout float64
	fc1     *Linear
	fc2     *Linear
	fc3     *Linear
}

// NewCorrelationHead builds the two-hidden-layer scorer over concatenated
// embeddings of the given hidden width.
func NewCorrelationHead(hidden int, dropout float64, rng *rand.Rand) *CorrelationHead {
	return &CorrelationHead{
		dropout: dropout,
		fc1:     NewLinear(hidden*2, headHidden1, rng),
		fc2:     NewLinear(headHidden1, headHidden2, rng),
		fc3:     NewLinear(headHidden2, 1, rng),
	}
}

// Score maps row-aligned embedding matrices a and b to an Nx1 column of
// correlation scores, one per pair.
func (h *CorrelationHead) Score(tp *tensor.Tape, a, b *tensor.Value, training bool, rng *rand.Rand) *tensor.Value {
	x := tp.ConcatCols(a, b)
	x = tp.ReLU(h.fc1.Forward(tp, x))
	if training {
		x = tp.Dropout(x, h.dropout, rng)
	}
	x = tp.ReLU(h.fc2.Forward(tp, x))
	if training {
		x = tp.Dropout(x, h.dropout, rng)
	}
	return tp.Sigmoid(h.fc3.Forward(tp, x))
}

func (h *CorrelationHead) namedParams() []NamedParam {
	var params []NamedParam
	params = append(params, h.fc1.namedParams("head.fc1")...)
	params = append(params, h.fc2.namedParams("head.fc2")...)
	params = append(params, h.fc3.namedParams("head.fc3")...)
	return params
}
