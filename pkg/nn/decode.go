package nn

import (
	"fmt"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// BoxDecoder turns the raw grid output of a YOLO style head into one Detection per anchor per cell
type BoxDecoder struct {
	Anchors  []Anchor
	ClampMax float32 // Upper bound on tw and th before exponentiation, so that exp() can't overflow
}

func NewBoxDecoder(anchors []Anchor, clampMax float32) *BoxDecoder {
	return &BoxDecoder{
		Anchors:  anchors,
		ClampMax: clampMax,
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// softmax of src written into dst
func softmax(src, dst []float32) {
	maxV := src[0]
	for _, v := range src[1:] {
		maxV = max(maxV, v)
	}
	sum := float32(0)
	for i, v := range src {
		dst[i] = math32.Exp(v - maxV)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// Decode a raw tensor of shape (gridWidth, gridHeight, numAnchors * (5 + numClasses)).
// Each anchor's channels are [tx, ty, tw, th, to, classLogits...].
// The result has numAnchors * gridHeight * gridWidth rows, ordered by anchor, then row (y), then column (x).
func (d *BoxDecoder) Decode(raw *tensor.Dense) ([]Detection, error) {
	shape := raw.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: expected 3 dimensions (W,H,C), got %v", ErrShape, shape)
	}
	data, ok := raw.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: expected float32 data, got %v", ErrShape, raw.Dtype())
	}
	return d.DecodeSlice(data, shape[0], shape[1], shape[2])
}

// DecodeSlice is Decode on a row-major (W,H,C) buffer
func (d *BoxDecoder) DecodeSlice(data []float32, gridW, gridH, channels int) ([]Detection, error) {
	nA := len(d.Anchors)
	if nA == 0 {
		return nil, fmt.Errorf("%w: no anchors", ErrShape)
	}
	if channels%nA != 0 || channels/nA < 5 {
		return nil, fmt.Errorf("%w: %v channels can't hold %v anchors of [x,y,w,h,conf,classes...]", ErrShape, channels, nA)
	}
	if len(data) != gridW*gridH*channels {
		return nil, fmt.Errorf("%w: buffer holds %v values, expected %v x %v x %v", ErrShape, len(data), gridW, gridH, channels)
	}
	P := channels / nA
	nClasses := P - 5
	fW := float32(gridW)
	fH := float32(gridH)

	out := make([]Detection, 0, nA*gridH*gridW)
	// One allocation for all the class vectors
	classes := make([]float32, nA*gridH*gridW*nClasses)
	for a, anchor := range d.Anchors {
		for cy := 0; cy < gridH; cy++ {
			for cx := 0; cx < gridW; cx++ {
				p := data[(cx*gridH+cy)*channels+a*P:][:P]
				det := Detection{
					XCenter:    (sigmoid(p[0]) + float32(cx)) / fW,
					YCenter:    (sigmoid(p[1]) + float32(cy)) / fH,
					Width:      math32.Exp(min(p[2], d.ClampMax)) * anchor.Width / fW,
					Height:     math32.Exp(min(p[3], d.ClampMax)) * anchor.Height / fH,
					Confidence: sigmoid(p[4]),
				}
				if nClasses != 0 {
					det.Classes = classes[len(out)*nClasses:][:nClasses:nClasses]
					softmax(p[5:], det.Classes)
				}
				out = append(out, det)
			}
		}
	}
	return out, nil
}
