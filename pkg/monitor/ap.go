package monitor

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/bddseq/pkg/nn"
)

const DefaultIoUThreshold = 0.5

// Per-class running totals
type classStats struct {
	numTruth int       // Number of ground truth boxes seen
	scores   []float32 // Score of every prediction
	hits     []bool    // hits[i] is true if prediction i matched a ground truth box
}

// APStats accumulates predictions and ground truth over many frames, and reports
// the VOC style (all points interpolated) average precision per class, and the mean over classes.
// It is not safe for concurrent use.
type APStats struct {
	IoUThreshold float32
	Frames       int
	classes      map[int]*classStats
}

func NewAPStats(iouThreshold float32) *APStats {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	return &APStats{
		IoUThreshold: iouThreshold,
		classes:      map[int]*classStats{},
	}
}

func (a *APStats) class(label int) *classStats {
	c := a.classes[label]
	if c == nil {
		c = &classStats{}
		a.classes[label] = c
	}
	return c
}

// Add one frame's predictions and ground truth.
// Within a frame, predictions are matched greedily in descending score order to the unmatched
// ground truth box of the same label with the highest IoU, provided that IoU reaches IoUThreshold.
func (a *APStats) Update(predictions, truth []nn.Prediction) {
	a.Frames++
	for _, t := range truth {
		a.class(t.Label).numTruth++
	}
	if len(predictions) == 0 {
		return
	}

	order := make([]int, len(predictions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return predictions[order[i]].Score > predictions[order[j]].Score
	})

	var fb *flatbush.Flatbush[float32]
	if len(truth) != 0 {
		fb = flatbush.NewFlatbush[float32]()
		fb.Reserve(len(truth))
		for _, t := range truth {
			fb.Add(t.Box.XMin, t.Box.YMin, t.Box.XMax, t.Box.YMax)
		}
		fb.Finish()
	}
	matched := make([]bool, len(truth))

	for _, i := range order {
		p := &predictions[i]
		c := a.class(p.Label)
		best := -1
		bestIoU := float32(0)
		if fb != nil {
			for _, j := range fb.Search(p.Box.XMin, p.Box.YMin, p.Box.XMax, p.Box.YMax) {
				if matched[j] || truth[j].Label != p.Label {
					continue
				}
				iou := p.Box.IOU(truth[j].Box)
				if iou >= a.IoUThreshold && iou > bestIoU {
					best = j
					bestIoU = iou
				}
			}
		}
		if best != -1 {
			matched[best] = true
		}
		c.scores = append(c.scores, p.Score)
		c.hits = append(c.hits, best != -1)
	}
}

// Return the average precision of one class, or 0 if the class has no ground truth
func (a *APStats) AP(label int) float64 {
	c := a.classes[label]
	if c == nil || c.numTruth == 0 {
		return 0
	}
	return c.averagePrecision()
}

// Return the mean AP over all classes that have at least one ground truth box.
// Returns 0 when no ground truth has been seen.
func (a *APStats) MAP() float64 {
	sum := 0.0
	n := 0
	for _, c := range a.classes {
		if c.numTruth == 0 {
			continue
		}
		sum += c.averagePrecision()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Return the labels that have been seen so far, in ascending order
func (a *APStats) Labels() []int {
	labels := make([]int, 0, len(a.classes))
	for l := range a.classes {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

func (c *classStats) averagePrecision() float64 {
	order := make([]int, len(c.scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return c.scores[order[i]] > c.scores[order[j]]
	})

	// Precision/recall curve, with sentinels at both ends
	recall := make([]float64, 0, len(order)+2)
	precision := make([]float64, 0, len(order)+2)
	recall = append(recall, 0)
	precision = append(precision, 0)
	tp := 0
	for k, i := range order {
		if c.hits[i] {
			tp++
		}
		recall = append(recall, float64(tp)/float64(c.numTruth))
		precision = append(precision, float64(tp)/float64(k+1))
	}
	recall = append(recall, 1)
	precision = append(precision, 0)

	// Make precision monotonically decreasing
	for i := len(precision) - 2; i >= 0; i-- {
		precision[i] = max(precision[i], precision[i+1])
	}

	ap := 0.0
	for i := 1; i < len(recall); i++ {
		ap += (recall[i] - recall[i-1]) * precision[i]
	}
	return ap
}
