// Package training implements the contrastive training loop: the Adam
// optimizer, the precedes-relation contrastive objective and the epoch
// driver that produces a checkpoint bundle.
package training

import (
	"math"

	"github.com/soundprediction/go-behaviorgraph/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

// Adam is the standard Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m    map[string]*mat.Dense
	v    map[string]*mat.Dense
}

// NewAdam returns an optimizer with the usual defaults (0.9, 0.999, 1e-8).
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		m:            make(map[string]*mat.Dense),
		v:            make(map[string]*mat.Dense),
	}
}

// Step applies one update to every parameter that received a gradient.
func (o *Adam) Step(params []nn.NamedParam) {
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range params {
		if p.Value.Grad == nil {
			continue
		}
		r, c := p.Value.Data.Dims()
		m, ok := o.m[p.Name]
		if !ok {
			m = mat.NewDense(r, c, nil)
			o.m[p.Name] = m
			o.v[p.Name] = mat.NewDense(r, c, nil)
		}
		v := o.v[p.Name]

		for i := 0; i < r; i++ {
			grad := p.Value.Grad.RawRowView(i)
			mRow := m.RawRowView(i)
			vRow := v.RawRowView(i)
			data := p.Value.Data.RawRowView(i)
			for j := 0; j < c; j++ {
				g := grad[j]
				mRow[j] = o.Beta1*mRow[j] + (1-o.Beta1)*g
				vRow[j] = o.Beta2*vRow[j] + (1-o.Beta2)*g*g
				mHat := mRow[j] / c1
				vHat := vRow[j] / c2
				data[j] -= o.LearningRate * mHat / (math.Sqrt(vHat) + o.Epsilon)
			}
		}
	}
}

// ZeroGrad clears gradients ahead of the next step.
func (o *Adam) ZeroGrad(params []nn.NamedParam) {
	for _, p := range params {
		p.Value.ZeroGrad()
	}
}
