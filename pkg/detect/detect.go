// Package detect implements the two inference modes: exhaustive pattern
// detection over (music activity, calendar event) pairs and embedding export
// for downstream clustering.
package detect

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/soundprediction/go-behaviorgraph/pkg/checkpoint"
	"github.com/soundprediction/go-behaviorgraph/pkg/graph"
	"github.com/soundprediction/go-behaviorgraph/pkg/nn"
	"github.com/soundprediction/go-behaviorgraph/pkg/tensor"
)

// TemporalPatternType labels the one pattern family this detector emits.
const TemporalPatternType = "temporal_music_before_event"

// Pattern is one detected correlation between a music activity and a
// calendar event. Indexes are local to the node type partition.
type Pattern struct {
	PatternType      string  `json:"pattern_type"`
	MusicActivityIdx int     `json:"music_activity_idx"`
	CalendarEventIdx int     `json:"calendar_event_idx"`
	ConfidenceScore  float64 `json:"confidence_score"`
	Correlation      float64 `json:"correlation"`
}

// Rebuild reconstructs a model from a checkpoint bundle: the recorded
// vocabulary drives layer construction, then the stored parameters replace
// the fresh initialization.
func Rebuild(bundle *checkpoint.Bundle) (*nn.Model, error) {
	edgeKeys, err := bundle.EdgeKeys()
	if err != nil {
		return nil, err
	}
	cfg := nn.Config{
		HiddenChannels: bundle.HiddenChannels,
		NumLayers:      bundle.NumLayers,
		NumHeads:       bundle.NumHeads,
	}
	// Initialization is immediately overwritten by the checkpoint state,
	// so the seed here carries no meaning.
	model, err := nn.New(cfg, bundle.NodeTypes, edgeKeys, bundle.FeatureDims, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, err
	}
	state, err := bundle.State()
	if err != nil {
		return nil, err
	}
	if err := model.LoadState(state); err != nil {
		return nil, &checkpoint.MismatchError{Reason: err.Error()}
	}
	return model, nil
}

// forward runs one gradient-free pass and returns the final embeddings.
func forward(model *nn.Model, g *graph.Graph) (*tensor.Tape, map[string]*tensor.Value) {
	tp := tensor.NewTape()
	return tp, model.Forward(tp, g, false, nil)
}

// Patterns scores every (music activity, calendar event) pair through the
// correlation head, keeps pairs at or above minConfidence, and returns them
// sorted by correlation descending, truncated to topK. The exhaustive
// pairing is deliberate: per-user graphs are small, and it keeps the scoring
// semantics trivially auditable.
func Patterns(bundle *checkpoint.Bundle, g *graph.Graph, minConfidence float64, topK int) ([]Pattern, error) {
	model, err := Rebuild(bundle)
	if err != nil {
		return nil, err
	}
	tp, embeddings := forward(model, g)

	music, ok := embeddings[graph.MusicActivityNodeType]
	if !ok {
		return []Pattern{}, nil
	}
	events, ok := embeddings[graph.CalendarEventNodeType]
	if !ok {
		return []Pattern{}, nil
	}

	numMusic, _ := music.Dims()
	numEvents, _ := events.Dims()
	if numMusic == 0 || numEvents == 0 {
		return []Pattern{}, nil
	}

	// One batched head evaluation over the full cross product.
	musicIdx := make([]int, 0, numMusic*numEvents)
	eventIdx := make([]int, 0, numMusic*numEvents)
	for i := 0; i < numMusic; i++ {
		for j := 0; j < numEvents; j++ {
			musicIdx = append(musicIdx, i)
			eventIdx = append(eventIdx, j)
		}
	}
	scores := model.Score(tp,
		tp.GatherRows(music, musicIdx),
		tp.GatherRows(events, eventIdx),
		false, nil)

	patterns := make([]Pattern, 0)
	for p := 0; p < len(musicIdx); p++ {
		correlation := scores.Data.At(p, 0)
		if correlation < minConfidence {
			continue
		}
		patterns = append(patterns, Pattern{
			PatternType:      TemporalPatternType,
			MusicActivityIdx: musicIdx[p],
			CalendarEventIdx: eventIdx[p],
			ConfidenceScore:  math.Round(correlation*100*100) / 100,
			Correlation:      correlation,
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Correlation > patterns[j].Correlation
	})
	if topK > 0 && len(patterns) > topK {
		patterns = patterns[:topK]
	}
	return patterns, nil
}

// Embeddings exports every node's final embedding in the checkpoint's
// node-type order, with synthetic ids of the form "{type}_{localIndex}".
// The original external node id is not preserved; callers that need it must
// keep their own id-to-index mapping.
func Embeddings(bundle *checkpoint.Bundle, g *graph.Graph) ([][]float64, []string, error) {
	model, err := Rebuild(bundle)
	if err != nil {
		return nil, nil, err
	}
	_, embeddings := forward(model, g)

	vectors := make([][]float64, 0)
	ids := make([]string, 0)
	for _, nodeType := range bundle.NodeTypes {
		emb, ok := embeddings[nodeType]
		if !ok {
			continue
		}
		rows, cols := emb.Dims()
		for i := 0; i < rows; i++ {
			row := make([]float64, cols)
			copy(row, emb.Row(i))
			vectors = append(vectors, row)
			ids = append(ids, fmt.Sprintf("%s_%d", nodeType, i))
		}
	}
	return vectors, ids, nil
}
