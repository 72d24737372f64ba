// Package stream exposes a dataset of frame sequences one frame at a time
package stream

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/bddseq/pkg/nn"
	"gorgonia.org/tensor"
)

var ErrEmptySequence = errors.New("Sample has no frames")

// Source produces (C, H, W, T) sequence tensors, with one annotation per frame
type Source interface {
	Get(index int) (*tensor.Dense, []nn.Annotation, error)
}

// Normalization is applied per channel, as (v - Mean[c]) / Std[c].
// A nil *Normalization passes frames through unchanged.
type Normalization struct {
	Mean []float32
	Std  []float32
}

// Frame is one step of the stream
type Frame struct {
	Frame      *tensor.Dense // (W, H, C), normalized if a Normalization was given
	Annotation nn.Annotation
	Raw        *tensor.Dense // (C, H, W), as the dataset produced it
}

// State of a stream. It is a plain value: Advance returns the next State, and never modifies
// the one it is given. Only one consumer should advance a given chain of states.
type State struct {
	SampleIdx   int // Index of the next sample to load from the Source
	FrameIdx    int // Cursor within the current sample
	frames      []*tensor.Dense
	raw         []*tensor.Dense
	annotations []nn.Annotation
}

// Number of frames in the current sample
func (s *State) Len() int {
	return len(s.annotations)
}

// Split a (C, H, W, T) tensor into T raw (C,H,W) frames, and T (W,H,C) frames
func splitFrames(seq *tensor.Dense, norm *Normalization) (raw, xyz []*tensor.Dense, err error) {
	shape := seq.Shape()
	if len(shape) != 4 {
		return nil, nil, fmt.Errorf("Expected a (C,H,W,T) tensor, got shape %v", shape)
	}
	C := shape[0]
	if norm != nil && (len(norm.Mean) != C || len(norm.Std) != C) {
		return nil, nil, fmt.Errorf("Normalization has %v means and %v stds, but frames have %v channels", len(norm.Mean), len(norm.Std), C)
	}
	T := shape[3]
	for t := 0; t < T; t++ {
		view, err := seq.Slice(nil, nil, nil, tensor.S(t))
		if err != nil {
			return nil, nil, err
		}
		r := view.(*tensor.Dense).Materialize().(*tensor.Dense)
		// CHW -> WHC
		f := r.Clone().(*tensor.Dense)
		if err := f.T(2, 1, 0); err != nil {
			return nil, nil, err
		}
		if err := f.Transpose(); err != nil {
			return nil, nil, err
		}
		if norm != nil {
			data := f.Data().([]float32)
			for i := range data {
				c := i % C
				data[i] = (data[i] - norm.Mean[c]) / norm.Std[c]
			}
		}
		raw = append(raw, r)
		xyz = append(xyz, f)
	}
	return raw, xyz, nil
}

// Load sample s.SampleIdx into a new state, with the cursor at the first frame
func load(src Source, s State, norm *Normalization) (State, error) {
	seq, annotations, err := src.Get(s.SampleIdx)
	if err != nil {
		return s, err
	}
	if len(annotations) == 0 {
		return s, fmt.Errorf("%w: sample %v", ErrEmptySequence, s.SampleIdx)
	}
	raw, xyz, err := splitFrames(seq, norm)
	if err != nil {
		return s, err
	}
	if len(raw) != len(annotations) {
		return s, fmt.Errorf("Sample %v has %v frames but %v annotations", s.SampleIdx, len(raw), len(annotations))
	}
	return State{
		SampleIdx:   s.SampleIdx + 1,
		FrameIdx:    0,
		frames:      xyz,
		raw:         raw,
		annotations: annotations,
	}, nil
}

// Start a stream at sample startIdx
func Start(src Source, startIdx int, norm *Normalization) (State, error) {
	return load(src, State{SampleIdx: startIdx}, norm)
}

// Advance returns the frame at the cursor, and the state with the cursor moved forward.
// When the cursor passes the end of the sample, the next sample is loaded.
// If that load fails, the frame is still returned along with the error, and the returned state
// retries the load on the next call.
func Advance(src Source, s State, norm *Normalization) (State, Frame, error) {
	if s.FrameIdx >= s.Len() {
		// A previous load failed, or the state was never started
		next, err := load(src, s, norm)
		if err != nil {
			return s, Frame{}, err
		}
		s = next
	}
	f := Frame{
		Frame:      s.frames[s.FrameIdx],
		Annotation: s.annotations[s.FrameIdx],
		Raw:        s.raw[s.FrameIdx],
	}
	s.FrameIdx++
	if s.FrameIdx >= s.Len() {
		next, err := load(src, s, norm)
		if err != nil {
			return s, f, err
		}
		s = next
	}
	return s, f, nil
}

// Streamer holds a State for one consumer. It is not safe for concurrent use.
type Streamer struct {
	Source        Source
	Normalization *Normalization
	State         State
}

// Create a streamer, loading sample startIdx immediately
func NewStreamer(src Source, startIdx int, norm *Normalization) (*Streamer, error) {
	s, err := Start(src, startIdx, norm)
	if err != nil {
		return nil, err
	}
	return &Streamer{
		Source:        src,
		Normalization: norm,
		State:         s,
	}, nil
}

// Return the next frame, moving on to the next sample when the current one is exhausted
func (s *Streamer) Advance() (Frame, error) {
	next, f, err := Advance(s.Source, s.State, s.Normalization)
	s.State = next
	return f, err
}
