package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SegmentSoftmax normalizes an Ex1 score column so that scores sharing a
// segment id sum to one. Segments index the target node of each edge, so the
// result is a per-target attention distribution over incoming edges.
func (t *Tape) SegmentSoftmax(scores *Value, segments []int, numSegments int) *Value {
	r, c := scores.Data.Dims()
	if c != 1 || r != len(segments) {
		panic(fmt.Sprintf("tensor: segment softmax wants %dx1 scores, got %dx%d", len(segments), r, c))
	}

	// Shift by the per-segment max before exponentiating.
	maxes := make([]float64, numSegments)
	for i := range maxes {
		maxes[i] = math.Inf(-1)
	}
	for i, seg := range segments {
		if v := scores.Data.At(i, 0); v > maxes[seg] {
			maxes[seg] = v
		}
	}

	out := mat.NewDense(r, 1, nil)
	sums := make([]float64, numSegments)
	for i, seg := range segments {
		e := math.Exp(scores.Data.At(i, 0) - maxes[seg])
		out.Set(i, 0, e)
		sums[seg] += e
	}
	for i, seg := range segments {
		out.Set(i, 0, out.At(i, 0)/sums[seg])
	}

	return t.node(out, func(grad *mat.Dense) {
		// d softmax: alpha_i * (g_i - sum_{j in segment} alpha_j g_j)
		weighted := make([]float64, numSegments)
		for i, seg := range segments {
			weighted[seg] += out.At(i, 0) * grad.At(i, 0)
		}
		ds := mat.NewDense(r, 1, nil)
		for i, seg := range segments {
			ds.Set(i, 0, out.At(i, 0)*(grad.At(i, 0)-weighted[seg]))
		}
		scores.accumulate(ds)
	})
}

// SegmentWeightedSum reduces per-edge messages to per-target rows:
// out[s] = sum over edges e with segments[e] == s of weights[e] * values[e].
// Targets with no incoming edges keep zero rows.
func (t *Tape) SegmentWeightedSum(weights, values *Value, segments []int, numSegments int) *Value {
	wr, wc := weights.Data.Dims()
	vr, vc := values.Data.Dims()
	if wc != 1 || wr != vr || wr != len(segments) {
		panic(fmt.Sprintf("tensor: weighted sum shape mismatch %dx%d weights, %dx%d values, %d segments",
			wr, wc, vr, vc, len(segments)))
	}

	out := mat.NewDense(numSegments, vc, nil)
	for i, seg := range segments {
		w := weights.Data.At(i, 0)
		dst := out.RawRowView(seg)
		src := values.Data.RawRowView(i)
		for j := 0; j < vc; j++ {
			dst[j] += w * src[j]
		}
	}

	return t.node(out, func(grad *mat.Dense) {
		dw := mat.NewDense(wr, 1, nil)
		dv := mat.NewDense(vr, vc, nil)
		for i, seg := range segments {
			g := grad.RawRowView(seg)
			src := values.Data.RawRowView(i)
			dot := 0.0
			w := weights.Data.At(i, 0)
			dst := dv.RawRowView(i)
			for j := 0; j < vc; j++ {
				dot += g[j] * src[j]
				dst[j] = w * g[j]
			}
			dw.Set(i, 0, dot)
		}
		weights.accumulate(dw)
		values.accumulate(dv)
	})
}
