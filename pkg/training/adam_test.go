package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/soundprediction/go-behaviorgraph/pkg/nn"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

func TestAdamMinimizesQuadratic(t *testing.T) {
	x := tensor.NewParam(mat.NewDense(1, 2, []float64{5, -3}))
	params := []nn.NamedParam{{Name: "x", Value: x}}
	opt := NewAdam(0.1)

	for step := 0; step < 500; step++ {
		tp := tensor.NewTape()
		loss := tp.Scale(tp.RowDot(x, x), 0.5)

		opt.ZeroGrad(params)
		tp.Backward(loss)
		opt.Step(params)
	}

	assert.Less(t, math.Abs(x.Data.At(0, 0)), 1e-2)
	assert.Less(t, math.Abs(x.Data.At(0, 1)), 1e-2)
}

func TestAdamSkipsParamsWithoutGradients(t *testing.T) {
	x := tensor.NewParam(mat.NewDense(1, 1, []float64{2}))
	opt := NewAdam(0.1)

	opt.Step([]nn.NamedParam{{Name: "x", Value: x}})
	assert.Equal(t, 2.0, x.Data.At(0, 0))
}
