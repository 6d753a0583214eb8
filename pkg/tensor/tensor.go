// Package tensor implements a small reverse-mode autodiff engine over gonum
// dense matrices. It provides exactly the operations the heterogeneous
// message-passing model needs; it is not a general tensor library.
package tensor

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Value is a matrix node in the computation graph. Leaves are either
// parameters (gradients accumulated) or constants (gradients skipped);
// intermediate values are produced by Tape operations.
type Value struct {
	Data *mat.Dense
	Grad *mat.Dense

	requiresGrad bool
}

// NewParam wraps a matrix as a trainable parameter leaf.
func NewParam(data *mat.Dense) *Value {
	return &Value{Data: data, requiresGrad: true}
}

// NewConstant wraps a matrix as a non-trainable leaf, e.g. input features.
func NewConstant(data *mat.Dense) *Value {
	return &Value{Data: data}
}

// Dims returns the shape of the value.
func (v *Value) Dims() (int, int) { return v.Data.Dims() }

// Scalar returns the single entry of a 1x1 value.
func (v *Value) Scalar() float64 { return v.Data.At(0, 0) }

// Row returns the backing slice of one row. The slice aliases Data.
func (v *Value) Row(i int) []float64 { return v.Data.RawRowView(i) }

// ZeroGrad clears the accumulated gradient.
func (v *Value) ZeroGrad() {
	if v.Grad != nil {
		v.Grad.Zero()
	}
}

// HasNaN reports whether the value contains a NaN or Inf entry.
func (v *Value) HasNaN() bool {
	r, c := v.Data.Dims()
	for i := 0; i < r; i++ {
		row := v.Data.RawRowView(i)
		for j := 0; j < c; j++ {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				return true
			}
		}
	}
	return false
}

// accumulate adds delta into the gradient of v, allocating on first use.
// Constant leaves are skipped.
func (v *Value) accumulate(delta mat.Matrix) {
	if !v.requiresGrad {
		return
	}
	if v.Grad == nil {
		r, c := v.Data.Dims()
		v.Grad = mat.NewDense(r, c, nil)
	}
	v.Grad.Add(v.Grad, delta)
}

// Tape records operations in execution order so gradients can be propagated
// by a single reverse sweep. One tape corresponds to one forward pass.
type Tape struct {
	steps []func()
}

// NewTape returns an empty tape.
func NewTape() *Tape { return &Tape{} }

// node registers an intermediate value and its backward step.
func (t *Tape) node(data *mat.Dense, backward func(grad *mat.Dense)) *Value {
	out := &Value{Data: data, requiresGrad: true}
	if backward != nil {
		t.steps = append(t.steps, func() {
			if out.Grad != nil {
				backward(out.Grad)
			}
		})
	}
	return out
}

// Backward seeds the 1x1 root with gradient one and runs the reverse sweep.
func (t *Tape) Backward(root *Value) {
	r, c := root.Data.Dims()
	if r != 1 || c != 1 {
		panic("tensor: backward root must be a 1x1 value")
	}
	root.Grad = mat.NewDense(1, 1, []float64{1})
	for i := len(t.steps) - 1; i >= 0; i-- {
		t.steps[i]()
	}
}
