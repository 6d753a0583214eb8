package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// MatMul computes a @ b.
func (t *Tape) MatMul(a, b *Value) *Value {
	ar, _ := a.Data.Dims()
	_, bc := b.Data.Dims()
	out := mat.NewDense(ar, bc, nil)
	out.Mul(a.Data, b.Data)

	return t.node(out, func(grad *mat.Dense) {
		var da, db mat.Dense
		da.Mul(grad, b.Data.T())
		a.accumulate(&da)
		db.Mul(a.Data.T(), grad)
		b.accumulate(&db)
	})
}

// Add computes a + b for equally shaped values.
func (t *Tape) Add(a, b *Value) *Value {
	r, c := a.Data.Dims()
	out := mat.NewDense(r, c, nil)
	out.Add(a.Data, b.Data)

	return t.node(out, func(grad *mat.Dense) {
		a.accumulate(grad)
		b.accumulate(grad)
	})
}

// AddRow broadcasts a 1xC bias row across every row of a.
func (t *Tape) AddRow(a, bias *Value) *Value {
	r, c := a.Data.Dims()
	br, bc := bias.Data.Dims()
	if br != 1 || bc != c {
		panic(fmt.Sprintf("tensor: bias shape %dx%d does not broadcast over %dx%d", br, bc, r, c))
	}
	out := mat.NewDense(r, c, nil)
	biasRow := bias.Data.RawRowView(0)
	for i := 0; i < r; i++ {
		vek.Add_Into(out.RawRowView(i), a.Data.RawRowView(i), biasRow)
	}

	return t.node(out, func(grad *mat.Dense) {
		a.accumulate(grad)
		sum := mat.NewDense(1, c, nil)
		row := sum.RawRowView(0)
		for i := 0; i < r; i++ {
			vek.Add_Inplace(row, grad.RawRowView(i))
		}
		bias.accumulate(sum)
	})
}

// Scale computes s * a.
func (t *Tape) Scale(a *Value, s float64) *Value {
	r, c := a.Data.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(s, a.Data)

	return t.node(out, func(grad *mat.Dense) {
		var da mat.Dense
		da.Scale(s, grad)
		a.accumulate(&da)
	})
}

// ReLU computes max(0, a) elementwise.
func (t *Tape) ReLU(a *Value) *Value {
	r, c := a.Data.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, a.Data)

	return t.node(out, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			src := a.Data.RawRowView(i)
			g := grad.RawRowView(i)
			dst := da.RawRowView(i)
			for j := 0; j < c; j++ {
				if src[j] > 0 {
					dst[j] = g[j]
				}
			}
		}
		a.accumulate(da)
	})
}

// Sigmoid computes 1/(1+exp(-a)) elementwise.
func (t *Tape) Sigmoid(a *Value) *Value {
	r, c := a.Data.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return 1 / (1 + math.Exp(-v))
	}, a.Data)

	return t.node(out, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			s := out.RawRowView(i)
			g := grad.RawRowView(i)
			dst := da.RawRowView(i)
			for j := 0; j < c; j++ {
				dst[j] = g[j] * s[j] * (1 - s[j])
			}
		}
		a.accumulate(da)
	})
}

// Dropout zeroes entries with probability p and rescales the survivors by
// 1/(1-p), the usual inverted-dropout convention. A nil rng or p <= 0 makes
// it the identity, which is how inference disables regularization.
func (t *Tape) Dropout(a *Value, p float64, rng *rand.Rand) *Value {
	if p <= 0 || rng == nil {
		return a
	}
	r, c := a.Data.Dims()
	keep := 1 - p
	mask := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src := a.Data.RawRowView(i)
		m := mask.RawRowView(i)
		dst := out.RawRowView(i)
		for j := 0; j < c; j++ {
			if rng.Float64() < keep {
				m[j] = 1 / keep
				dst[j] = src[j] / keep
			}
		}
	}

	return t.node(out, func(grad *mat.Dense) {
		var da mat.Dense
		da.MulElem(grad, mask)
		a.accumulate(&da)
	})
}

// ConcatCols concatenates a and b along columns.
func (t *Tape) ConcatCols(a, b *Value) *Value {
	r, ac := a.Data.Dims()
	br, bc := b.Data.Dims()
	if r != br {
		panic(fmt.Sprintf("tensor: concat row mismatch %d vs %d", r, br))
	}
	out := mat.NewDense(r, ac+bc, nil)
	for i := 0; i < r; i++ {
		dst := out.RawRowView(i)
		copy(dst[:ac], a.Data.RawRowView(i))
		copy(dst[ac:], b.Data.RawRowView(i))
	}

	return t.node(out, func(grad *mat.Dense) {
		da := mat.NewDense(r, ac, nil)
		db := mat.NewDense(r, bc, nil)
		for i := 0; i < r; i++ {
			g := grad.RawRowView(i)
			copy(da.RawRowView(i), g[:ac])
			copy(db.RawRowView(i), g[ac:])
		}
		a.accumulate(da)
		b.accumulate(db)
	})
}

// SliceCols takes columns [from, to) of a. Used to address one attention
// head's block within a full-width projection.
func (t *Tape) SliceCols(a *Value, from, to int) *Value {
	r, c := a.Data.Dims()
	if from < 0 || to > c || from >= to {
		panic(fmt.Sprintf("tensor: column slice [%d,%d) out of range for width %d", from, to, c))
	}
	width := to - from
	out := mat.NewDense(r, width, nil)
	for i := 0; i < r; i++ {
		copy(out.RawRowView(i), a.Data.RawRowView(i)[from:to])
	}

	return t.node(out, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			copy(da.RawRowView(i)[from:to], grad.RawRowView(i))
		}
		a.accumulate(da)
	})
}

// GatherRows selects rows of a by index, with repetition allowed.
func (t *Tape) GatherRows(a *Value, idx []int) *Value {
	_, c := a.Data.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, row := range idx {
		copy(out.RawRowView(i), a.Data.RawRowView(row))
	}

	return t.node(out, func(grad *mat.Dense) {
		r, _ := a.Data.Dims()
		da := mat.NewDense(r, c, nil)
		for i, row := range idx {
			vek.Add_Inplace(da.RawRowView(row), grad.RawRowView(i))
		}
		a.accumulate(da)
	})
}

// RowDot computes the per-row dot product of equally shaped a and b,
// returning an Nx1 column.
func (t *Tape) RowDot(a, b *Value) *Value {
	r, _ := a.Data.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, vek.Dot(a.Data.RawRowView(i), b.Data.RawRowView(i)))
	}

	return t.node(out, func(grad *mat.Dense) {
		_, c := a.Data.Dims()
		da := mat.NewDense(r, c, nil)
		db := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			g := grad.At(i, 0)
			rowA := a.Data.RawRowView(i)
			rowB := b.Data.RawRowView(i)
			dstA := da.RawRowView(i)
			dstB := db.RawRowView(i)
			for j := 0; j < c; j++ {
				dstA[j] = g * rowB[j]
				dstB[j] = g * rowA[j]
			}
		}
		a.accumulate(da)
		b.accumulate(db)
	})
}

const cosineEpsilon = 1e-8

// CosineRows computes the per-row cosine similarity of a and b as an Nx1
// column. Norms are clamped away from zero for numerical stability.
func (t *Tape) CosineRows(a, b *Value) *Value {
	r, c := a.Data.Dims()
	out := mat.NewDense(r, 1, nil)
	normsA := make([]float64, r)
	normsB := make([]float64, r)
	for i := 0; i < r; i++ {
		rowA := a.Data.RawRowView(i)
		rowB := b.Data.RawRowView(i)
		normsA[i] = math.Max(math.Sqrt(vek.Dot(rowA, rowA)), cosineEpsilon)
		normsB[i] = math.Max(math.Sqrt(vek.Dot(rowB, rowB)), cosineEpsilon)
		out.Set(i, 0, vek.Dot(rowA, rowB)/(normsA[i]*normsB[i]))
	}

	return t.node(out, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		db := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			g := grad.At(i, 0)
			cos := out.At(i, 0)
			rowA := a.Data.RawRowView(i)
			rowB := b.Data.RawRowView(i)
			dstA := da.RawRowView(i)
			dstB := db.RawRowView(i)
			na, nb := normsA[i], normsB[i]
			for j := 0; j < c; j++ {
				dstA[j] = g * (rowB[j]/(na*nb) - cos*rowA[j]/(na*na))
				dstB[j] = g * (rowA[j]/(na*nb) - cos*rowB[j]/(nb*nb))
			}
		}
		a.accumulate(da)
		b.accumulate(db)
	})
}

// Mean reduces a to its 1x1 mean over all entries.
func (t *Tape) Mean(a *Value) *Value {
	r, c := a.Data.Dims()
	n := float64(r * c)
	sum := 0.0
	for i := 0; i < r; i++ {
		row := a.Data.RawRowView(i)
		for j := 0; j < c; j++ {
			sum += row[j]
		}
	}
	out := mat.NewDense(1, 1, []float64{sum / n})

	return t.node(out, func(grad *mat.Dense) {
		g := grad.At(0, 0) / n
		da := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			row := da.RawRowView(i)
			for j := 0; j < c; j++ {
				row[j] = g
			}
		}
		a.accumulate(da)
	})
}

// Sub computes a - b.
func (t *Tape) Sub(a, b *Value) *Value {
	return t.Add(a, t.Scale(b, -1))
}
