package training

import (
	"math/rand"

	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

// contrastiveLoss computes the precedes-relation objective:
//
//	-mean(cos(source, target)) + mean(relu(cos(source, randomTarget)))
//
// Positives are the endpoints of every designated-relation edge; negatives
// pair each source with a target resampled uniformly from the target type.
// Returns false when the graph carries no designated edges or the relevant
// embeddings were dropped, in which case the step contributes zero loss.
func contrastiveLoss(tp *tensor.Tape, embeddings map[string]*tensor.Value, g *graph.Graph, rng *rand.Rand) (*tensor.Value, bool) {
	key, ok := g.PrecedesKey()
	if !ok {
		return nil, false
	}
	index := g.Edges[key]
	if index.Len() == 0 {
		return nil, false
	}
	sourceEmb, ok := embeddings[key.SourceType]
	if !ok {
		return nil, false
	}
	targetEmb, ok := embeddings[key.TargetType]
	if !ok {
		return nil, false
	}

	positiveSources := tp.GatherRows(sourceEmb, index.Sources)
	positiveTargets := tp.GatherRows(targetEmb, index.Targets)
	positiveSim := tp.CosineRows(positiveSources, positiveTargets)

	numTargets, _ := targetEmb.Dims()
	negativeIdx := make([]int, index.Len())
	for i := range negativeIdx {
		negativeIdx[i] = rng.Intn(numTargets)
	}
	negativeTargets := tp.GatherRows(targetEmb, negativeIdx)
	negativeSim := tp.CosineRows(positiveSources, negativeTargets)

	loss := tp.Add(tp.Scale(tp.Mean(positiveSim), -1), tp.Mean(tp.ReLU(negativeSim)))
	return loss, true
}
