package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

type nmsCandidate struct {
	box   Box
	score float32
	label int
}

// NMS performs greedy non-maximum suppression.
// Candidates are ranked by score. The best remaining candidate is emitted, and every remaining candidate
// that overlaps it by more than params.NmsThreshold is discarded. With params.MergeConf, the score is
// objectness * class probability and overlap is checked across classes. Otherwise the score is objectness,
// and only candidates of the same class suppress each other.
// The output holds at most params.MaxDetections boxes. If params.MaxIterations sweeps are done before the
// candidates run out, the boxes emitted so far are returned.
func NMS(dets []Detection, params *NMSParams) []Prediction {
	if params == nil {
		params = NewNMSParams()
	}

	cand := make([]nmsCandidate, 0, len(dets))
	for i := range dets {
		d := &dets[i]
		if d.Confidence <= params.ConfThreshold {
			continue
		}
		label, p := d.BestClass()
		score := d.Confidence
		if params.MergeConf && label >= 0 {
			score *= p
		}
		cand = append(cand, nmsCandidate{box: d.Box(), score: score, label: label})
	}
	if len(cand) == 0 {
		return []Prediction{}
	}
	// Stable, so that equal scores keep their decode order
	sort.SliceStable(cand, func(i, j int) bool {
		return cand[i].score > cand[j].score
	})

	// Spatial index, to avoid O(N^2) IoU comparisons. Index i is rank i.
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(cand))
	for _, c := range cand {
		fb.Add(c.box.XMin, c.box.YMin, c.box.XMax, c.box.YMax)
	}
	fb.Finish()

	suppressed := make([]bool, len(cand))
	out := []Prediction{}
	iterations := 0
	for i := range cand {
		if suppressed[i] {
			continue
		}
		if len(out) >= params.MaxDetections || iterations >= params.MaxIterations {
			break
		}
		iterations++
		best := &cand[i]
		out = append(out, Prediction{Box: best.box, Score: best.score, Label: best.label})
		for _, j := range fb.Search(best.box.XMin, best.box.YMin, best.box.XMax, best.box.YMax) {
			if j <= i || suppressed[j] {
				continue
			}
			if !params.MergeConf && cand[j].label != best.label {
				continue
			}
			if best.box.IOU(cand[j].box) > params.NmsThreshold {
				suppressed[j] = true
			}
		}
	}
	return out
}
