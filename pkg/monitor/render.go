package monitor

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/fogleman/gg"
	"gorgonia.org/tensor"
)

// Renderer draws ground truth and predicted boxes over a frame.
// Ground truth is drawn dashed, predictions solid with their label and score.
type Renderer struct {
	Classes   []string
	Colors    []color.RGBA // One per class
	Events    bool         // Render signed event frames instead of RGB frames
	LineWidth float64
}

// Create a renderer with per-class colours drawn from a seeded RNG, so that
// two runs with the same seed colour the same class identically.
func NewRenderer(classes []string, seed int64, events bool) *Renderer {
	rng := rand.New(rand.NewSource(seed))
	colors := make([]color.RGBA, len(classes))
	for i := range colors {
		colors[i] = color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
	}
	return &Renderer{
		Classes:   classes,
		Colors:    colors,
		Events:    events,
		LineWidth: 2,
	}
}

func (r *Renderer) color(label int) color.RGBA {
	if label < 0 || label >= len(r.Colors) {
		return color.RGBA{255, 255, 255, 255}
	}
	return r.Colors[label]
}

func (r *Renderer) className(label int) string {
	if label < 0 || label >= len(r.Classes) {
		return fmt.Sprintf("%v", label)
	}
	return r.Classes[label]
}

func toByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Convert a (C,H,W) frame with values in [0,1] into an RGBA image.
// One channel frames are drawn as grayscale.
func frameToRGBA(frame *tensor.Dense) (*image.RGBA, error) {
	shape := frame.Shape()
	if len(shape) != 3 || (shape[0] != 1 && shape[0] != 3) {
		return nil, fmt.Errorf("%w: expected a (C,H,W) frame with 1 or 3 channels, got %v", nn.ErrShape, shape)
	}
	data, ok := frame.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: expected float32 data, got %v", nn.ErrShape, frame.Dtype())
	}
	C, H, W := shape[0], shape[1], shape[2]
	img := image.NewRGBA(image.Rect(0, 0, W, H))
	plane := H * W
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			i := y*W + x
			p := img.Pix[y*img.Stride+x*4:]
			if C == 1 {
				v := toByte(data[i])
				p[0], p[1], p[2] = v, v, v
			} else {
				p[0] = toByte(data[i])
				p[1] = toByte(data[plane+i])
				p[2] = toByte(data[2*plane+i])
			}
			p[3] = 255
		}
	}
	return img, nil
}

// Convert a (C,H,W) frame of signed event values into an RGBA image.
// With two channels, the value is channel 0 minus channel 1. Positive values are drawn red,
// negative values green, and zero is mid gray. Magnitudes saturate at 1.
func eventsToRGBA(frame *tensor.Dense) (*image.RGBA, error) {
	shape := frame.Shape()
	if len(shape) != 3 || shape[0] < 1 || shape[0] > 2 {
		return nil, fmt.Errorf("%w: expected a (C,H,W) event frame with 1 or 2 channels, got %v", nn.ErrShape, shape)
	}
	data, ok := frame.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: expected float32 data, got %v", nn.ErrShape, frame.Dtype())
	}
	C, H, W := shape[0], shape[1], shape[2]
	img := image.NewRGBA(image.Rect(0, 0, W, H))
	plane := H * W
	for y := 0; y < H; y++ {
		for x := 0; x < W; x++ {
			i := y*W + x
			v := data[i]
			if C == 2 {
				v -= data[plane+i]
			}
			m := min(abs32(v), 1)
			hi := uint8(128 + 127*m)
			lo := uint8(128 - 128*m)
			p := img.Pix[y*img.Stride+x*4:]
			switch {
			case v > 0:
				p[0], p[1], p[2] = hi, lo, lo
			case v < 0:
				p[0], p[1], p[2] = lo, hi, lo
			default:
				p[0], p[1], p[2] = 128, 128, 128
			}
			p[3] = 255
		}
	}
	return img, nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Render frame (C,H,W) with truth and predictions in normalized [0,1] coordinates.
// Boxes are clipped to the frame.
func (r *Renderer) Render(frame *tensor.Dense, truth, predictions []nn.Prediction) (image.Image, error) {
	var img *image.RGBA
	var err error
	if r.Events {
		img, err = eventsToRGBA(frame)
	} else {
		img, err = frameToRGBA(frame)
	}
	if err != nil {
		return nil, err
	}
	W := float64(img.Bounds().Dx())
	H := float64(img.Bounds().Dy())

	dc := gg.NewContextForRGBA(img)
	dc.SetLineWidth(r.LineWidth)

	dc.SetDash(4, 3)
	for _, t := range truth {
		b := t.Box.Clip(1, 1)
		dc.SetColor(r.color(t.Label))
		dc.DrawRectangle(float64(b.XMin)*W, float64(b.YMin)*H, float64(b.Width())*W, float64(b.Height())*H)
		dc.Stroke()
	}

	dc.SetDash()
	for _, p := range predictions {
		b := p.Box.Clip(1, 1)
		x := float64(b.XMin) * W
		y := float64(b.YMin) * H
		dc.SetColor(r.color(p.Label))
		dc.DrawRectangle(x, y, float64(b.Width())*W, float64(b.Height())*H)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprintf("%v %.2f", r.className(p.Label), p.Score), x+2, y-2, 0, 0)
	}
	return dc.Image(), nil
}
