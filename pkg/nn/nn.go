// Package nn holds detector geometry and post-processing: decoding the raw grid output of
// an anchor based detector into boxes, and suppressing duplicates.
package nn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const DefaultClampMax = 5.0
const DefaultConfThreshold = 0.5
const DefaultNmsIouThreshold = 0.4
const DefaultMaxDetections = 300
const DefaultMaxIterations = 300

var ErrShape = errors.New("Unexpected tensor shape")

// Anchor is a reference box shape. A decoded box has width exp(tw) * Width / gridWidth.
type Anchor struct {
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Create anchors from rows of (width, height)
func MakeAnchors(rows [][2]float32) []Anchor {
	anchors := make([]Anchor, len(rows))
	for i, r := range rows {
		anchors[i] = Anchor{Width: r[0], Height: r[1]}
	}
	return anchors
}

// Detection is a single decoded anchor prediction. All coordinates are normalized to [0,1].
type Detection struct {
	XCenter    float32   `json:"x"`
	YCenter    float32   `json:"y"`
	Width      float32   `json:"w"`
	Height     float32   `json:"h"`
	Confidence float32   `json:"confidence"`
	Classes    []float32 `json:"classes"` // Class probabilities, summing to 1
}

// Box returns the corners of the detection
func (d *Detection) Box() Box {
	return BoxFromCenter(d.XCenter, d.YCenter, d.Width, d.Height)
}

// Return the most likely class and its probability. Returns (-1, 0) if there are no classes.
func (d *Detection) BestClass() (int, float32) {
	best := -1
	bestP := float32(0)
	for i, p := range d.Classes {
		if best == -1 || p > bestP {
			best = i
			bestP = p
		}
	}
	return best, bestP
}

// Prediction is the output of NMS: a box, its score, and its class label
type Prediction struct {
	Box   Box     `json:"box"`
	Score float32 `json:"score"`
	Label int     `json:"label"`
}

// NMS parameters
type NMSParams struct {
	ConfThreshold float32 // Detections with objectness at or below this are discarded before suppression
	NmsThreshold  float32 // Boxes overlapping a kept box by more than this IoU are suppressed
	MergeConf     bool    // Score with objectness * class probability, and suppress across classes
	MaxDetections int     // Stop after emitting this many boxes
	MaxIterations int     // Bound on suppression sweeps. Hitting it returns what has been emitted so far.
}

// Create a default NMSParams object
func NewNMSParams() *NMSParams {
	return &NMSParams{
		ConfThreshold: DefaultConfThreshold,
		NmsThreshold:  DefaultNmsIouThreshold,
		MergeConf:     true,
		MaxDetections: DefaultMaxDetections,
		MaxIterations: DefaultMaxIterations,
	}
}

// ModelConfig describes the output head of the detector. It's stored as JSON along with the weights.
type ModelConfig struct {
	Architecture string       `json:"architecture"` // eg "tinyyolov3"
	Width        int          `json:"width"`        // eg 448
	Height       int          `json:"height"`       // eg 448
	Classes      []string     `json:"classes"`      // eg ["bicycle", "bus", "car", ...]
	Anchors      [][2]float32 `json:"anchors"`      // eg [[0.28, 0.22], [0.38, 0.48]]
	ClampMax     float32      `json:"clampMax"`     // Zero means DefaultClampMax
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("Error parsing model config %v: %w", filename, err)
	}
	if len(config.Anchors) == 0 {
		return nil, fmt.Errorf("Model config %v has no anchors", filename)
	}
	return config, nil
}

// Create a BoxDecoder for this model
func (c *ModelConfig) Decoder() *BoxDecoder {
	clampMax := c.ClampMax
	if clampMax == 0 {
		clampMax = DefaultClampMax
	}
	return NewBoxDecoder(MakeAnchors(c.Anchors), clampMax)
}
