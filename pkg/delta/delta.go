// Package delta converts dense activation traces into sparse, event-like delta streams.
//
// Each call emits the change since the previous input, but only where that change (plus any
// leftover from earlier steps) reaches the firing threshold. Whatever isn't emitted is carried
// in a residue, so the running sum of outputs plus the residue always equals the latest input.
package delta

import (
	"errors"
	"fmt"
)

var ErrLength = errors.New("Activation length changed between steps")
var ErrParams = errors.New("Invalid delta encoder parameters")

// Largest raw input that is encoded without overflow
const MaxInput = 255

// State is the complete state of a delta encoder. It is a plain value; Encode
// returns a new State rather than modifying the one it is given.
type State struct {
	Vth      int32   // Firing threshold, already scaled by 2^SpikeExp
	SpikeExp uint    // Inputs are shifted left by this many bits before encoding
	Act      []int32 // Previous (scaled) input. nil means all zeros.
	Residue  []int32 // Sub-threshold delta carried forward. nil means all zeros.
	AMin     int32   // Clip bounds on the output. Clipping is active only when AMax > 0.
	AMax     int32
}

// CheckParams returns an error wrapping ErrParams if the threshold, the 8 bit input range, or the
// clip bounds would overflow int32 once scaled by 2^spikeExp.
func CheckParams(vth int32, spikeExp uint, numBits int) error {
	if vth < 0 {
		return fmt.Errorf("%w: negative threshold %v", ErrParams, vth)
	}
	if numBits < 0 {
		return fmt.Errorf("%w: negative numBits %v", ErrParams, numBits)
	}
	if spikeExp > 31 {
		return fmt.Errorf("%w: spikeExp %v", ErrParams, spikeExp)
	}
	limit := int64(1)<<31 - 1
	if int64(vth)<<spikeExp > limit {
		return fmt.Errorf("%w: threshold %v << %v overflows", ErrParams, vth, spikeExp)
	}
	// Deltas of scaled inputs span twice the input range
	if 2*int64(MaxInput)<<spikeExp > limit {
		return fmt.Errorf("%w: inputs up to %v << %v overflow", ErrParams, MaxInput, spikeExp)
	}
	if numBits > 0 && numBits+int(spikeExp) > 31 {
		return fmt.Errorf("%w: clip bounds of %v bits << %v overflow", ErrParams, numBits, spikeExp)
	}
	return nil
}

// Create the initial encoder state. The parameters should have passed CheckParams.
// vth is the unscaled threshold. If numBits is zero, outputs are not clipped; otherwise they are
// clipped to the signed range of numBits, scaled by 2^spikeExp.
func NewState(vth int32, spikeExp uint, numBits int) State {
	s := State{
		Vth:      vth << spikeExp,
		SpikeExp: spikeExp,
		AMin:     -1,
		AMax:     -1,
	}
	if numBits > 0 {
		s.AMin = -(int32(1) << (numBits - 1)) << spikeExp
		s.AMax = ((int32(1) << (numBits - 1)) - 1) << spikeExp
	}
	return s
}

// Clipped reports whether the encoder clips its output
func (s State) Clipped() bool {
	return s.AMax > 0
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Encode one step. actIn is the raw (unscaled) activation vector.
// Returns the next state and the emitted events, which are zero wherever the accumulated
// delta is below threshold.
func Encode(s State, actIn []int32) (State, []int32, error) {
	n := len(actIn)
	if (s.Act != nil && len(s.Act) != n) || (s.Residue != nil && len(s.Residue) != n) {
		return s, nil, fmt.Errorf("%w: %v, previously %v", ErrLength, n, max(len(s.Act), len(s.Residue)))
	}
	next := s
	next.Act = make([]int32, n)
	next.Residue = make([]int32, n)
	out := make([]int32, n)
	for i, a := range actIn {
		a <<= s.SpikeExp
		var prev, residue int32
		if s.Act != nil {
			prev = s.Act[i]
		}
		if s.Residue != nil {
			residue = s.Residue[i]
		}
		delta := a - prev + residue
		o := int32(0)
		if abs32(delta) >= s.Vth {
			o = delta
		}
		if s.Clipped() {
			o = min(max(o, s.AMin), s.AMax)
		}
		out[i] = o
		next.Residue[i] = delta - o
		next.Act[i] = a
	}
	return next, out, nil
}

// Encoder is a convenience wrapper that holds a State for one stream.
// It is not safe for concurrent use; keep one Encoder per stream.
type Encoder struct {
	State State
}

func NewEncoder(vth int32, spikeExp uint, numBits int) *Encoder {
	return &Encoder{State: NewState(vth, spikeExp, numBits)}
}

// Encode one step, advancing the held state
func (e *Encoder) Encode(actIn []int32) ([]int32, error) {
	next, out, err := Encode(e.State, actIn)
	if err != nil {
		return nil, err
	}
	e.State = next
	return out, nil
}

// Event is a single non-zero output of the encoder
type Event struct {
	Index int   // Position within the activation vector
	Value int32 // Signed magnitude
}

// Sparse returns the non-zero entries of an encoder output
func Sparse(out []int32) []Event {
	events := []Event{}
	for i, v := range out {
		if v != 0 {
			events = append(events, Event{Index: i, Value: v})
		}
	}
	return events
}
