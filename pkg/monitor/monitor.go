// Package monitor measures and visualizes detector output over a stream of frames
package monitor

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/bddseq/pkg/log"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/bddseq/pkg/perfstats"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorgonia.org/tensor"
)

var ErrEmpty = errors.New("Nothing to drain")

const DefaultWindow = 64

// Callback receives each annotated frame, the mAP after that frame, and the step index
type Callback func(annotated image.Image, score float64, step int)

type Options struct {
	IoUThreshold float32  // Zero means DefaultIoUThreshold
	Events       bool     // Frames are signed event frames, not RGB
	ColorSeed    int64    // Seed for the per-class box colours
	Window       int      // Number of recent steps in RecentMean(). Zero means DefaultWindow.
	Callback     Callback // If nil, no frames are rendered
}

// Step is the record of one drained frame
type Step struct {
	RunID       string  `json:"runID"`
	Index       int     `json:"index"`
	MAP         float64 `json:"mAP"`
	Truth       int     `json:"truth"`
	Predictions int     `json:"predictions"`
}

// Monitor buffers (frame, truth, prediction) triples on Record, and does the expensive
// work of scoring and rendering them on Drain, so that the producer's step stays cheap.
// Record and Drain may be called from different goroutines. With more than one goroutine
// draining, callbacks may arrive out of step order.
type Monitor struct {
	Log      logs.Log
	RunID    uuid.UUID
	stats    *APStats
	renderer *Renderer
	callback Callback

	lock   sync.Mutex
	frames []*tensor.Dense
	truth  [][]nn.Prediction
	preds  [][]nn.Prediction
	step   int
	window int
	recent ringbuffer.RingP[float64] // Holds at least window entries, newest last

	renderTime perfstats.TimeAccumulator
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Create a monitor. classes names each label, and is used for rendering.
func NewMonitor(logger logs.Log, classes []string, opts Options) *Monitor {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Monitor{
		RunID:    uuid.New(),
		stats:    NewAPStats(opts.IoUThreshold),
		callback: opts.Callback,
		window:   window,
		recent:   ringbuffer.NewRingP[float64](nextPowerOf2(window+1)),
	}
	m.Log = log.NewPrefixLogger(logger, "Monitor "+m.RunID.String()[:8]+":")
	if opts.Callback != nil {
		m.renderer = NewRenderer(classes, opts.ColorSeed, opts.Events)
	}
	return m
}

// Enqueue one frame (C,H,W) with its ground truth and predictions, in normalized coordinates
func (m *Monitor) Record(frame *tensor.Dense, truth, predictions []nn.Prediction) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.frames = append(m.frames, frame)
	m.truth = append(m.truth, truth)
	m.preds = append(m.preds, predictions)
}

// Number of recorded frames that have not been drained
func (m *Monitor) Pending() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.frames)
}

// Dequeue the oldest recorded frame, update the AP statistics, and if a callback is configured,
// render the frame and invoke the callback.
// Rendering and the callback run without holding the monitor's lock, so Record may proceed
// meanwhile, and the callback may call back into the monitor.
// Returns ErrEmpty if nothing has been recorded.
func (m *Monitor) Drain() (Step, error) {
	m.lock.Lock()
	if len(m.frames) == 0 {
		m.lock.Unlock()
		return Step{}, ErrEmpty
	}
	frame, truth, preds := m.frames[0], m.truth[0], m.preds[0]
	m.frames[0], m.truth[0], m.preds[0] = nil, nil, nil
	m.frames = m.frames[1:]
	m.truth = m.truth[1:]
	m.preds = m.preds[1:]

	m.stats.Update(preds, truth)
	score := m.stats.MAP()
	m.recent.Add(score)
	step := Step{
		RunID:       m.RunID.String(),
		Index:       m.step,
		MAP:         score,
		Truth:       len(truth),
		Predictions: len(preds),
	}
	m.step++
	m.lock.Unlock()

	m.Log.Debugf("Step %v: %v truth, %v predictions, mAP %.4f", step.Index, step.Truth, step.Predictions, score)

	if m.callback != nil {
		start := time.Now()
		annotated, err := m.renderer.Render(frame, truth, preds)
		if err != nil {
			return step, err
		}
		m.renderTime.Since(start)
		m.callback(annotated, score, step.Index)
	}
	return step, nil
}

// Drain everything that has been recorded, returning the steps in order
func (m *Monitor) DrainAll() ([]Step, error) {
	steps := []Step{}
	for {
		s, err := m.Drain()
		if errors.Is(err, ErrEmpty) {
			return steps, nil
		} else if err != nil {
			return steps, err
		}
		steps = append(steps, s)
	}
}

// Returns the mAP over everything drained so far
func (m *Monitor) MAP() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.stats.MAP()
}

// Returns the AP of a single class
func (m *Monitor) AP(label int) float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.stats.AP(label)
}

// Returns the mean of the mAP values of the most recent drained steps
func (m *Monitor) RecentMean() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	total := m.recent.Len()
	n := min(total, m.window)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := total - n; i < total; i++ {
		sum += m.recent.Peek(i)
	}
	return sum / float64(n)
}

// Average time spent rendering one frame
func (m *Monitor) RenderTime() time.Duration {
	return m.renderTime.Average()
}
