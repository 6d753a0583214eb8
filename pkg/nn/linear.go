// Package nn assembles the heterogeneous message-passing model: per-type
// input embedders, attention layers and the correlation head. All parameter
// shapes are derived from a graph's type vocabulary at construction time.
package nn

import (
	"math"
	"math/rand"

	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
	"gonum.org/v1/gonum/mat"
)

// Linear is a dense layer y = xW + b.
type Linear struct {
	Weight *tensor.Value
	Bias   *tensor.Value
}

// NewLinear creates a layer with Glorot-uniform weights and zero bias.
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	limit := math.Sqrt(6.0 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Linear{
		Weight: tensor.NewParam(mat.NewDense(in, out, data)),
		Bias:   tensor.NewParam(mat.NewDense(1, out, nil)),
	}
}

// Forward applies the layer on the tape.
func (l *Linear) Forward(tp *tensor.Tape, x *tensor.Value) *tensor.Value {
	return tp.AddRow(tp.MatMul(x, l.Weight), l.Bias)
}

// NamedParam pairs a parameter with its checkpoint key.
type NamedParam struct {
	Name  string
	Value *tensor.Value
}

func (l *Linear) namedParams(prefix string) []NamedParam {
	return []NamedParam{
		{Name: prefix + ".weight", Value: l.Weight},
		{Name: prefix + ".bias", Value: l.Bias},
	}
}
