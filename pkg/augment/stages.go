package augment

import (
	"image"
	"math/rand"

	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/disintegration/imaging"
)

// StageKind enumerates the stochastic stages, in the order they are applied
type StageKind int

const (
	StageFlipLR StageKind = iota
	StageBlur
	StageColorJitter
	StageGrayscale
	numStages
)

func (k StageKind) String() string {
	switch k {
	case StageFlipLR:
		return "fliplr"
	case StageBlur:
		return "blur"
	case StageColorJitter:
		return "colorjitter"
	case StageGrayscale:
		return "grayscale"
	}
	return "unknown"
}

// JitterRange holds the maximum adjustment, in percent, for each colour jitter component.
// A factor is drawn uniformly from [-range, +range] once per sequence.
// The zero value leaves images unchanged.
type JitterRange struct {
	Brightness float64 `json:"brightness" yaml:"brightness"`
	Contrast   float64 `json:"contrast" yaml:"contrast"`
	Saturation float64 `json:"saturation" yaml:"saturation"`
}

// Gaussian blur sigma bounds, matching a 5 pixel kernel
const blurSigmaMin = 0.1
const blurSigmaMax = 2.0

// Parameters of a stage, drawn once per sequence so that every frame gets the same treatment
type stageParams struct {
	sigma      float64
	brightness float64
	contrast   float64
	saturation float64
}

// Stage is one named augmentation with its effect on pixels and on boxes.
// Box is nil for purely photometric stages.
type Stage struct {
	Kind  StageKind
	Image func(img *image.NRGBA, p *stageParams) *image.NRGBA
	Box   func(ann nn.Annotation) nn.Annotation
}

func (s *Stage) Photometric() bool {
	return s.Box == nil
}

func flipAnnotation(ann nn.Annotation) nn.Annotation {
	out := ann.Clone()
	w := float32(ann.Size.Width)
	for i := range out.Objects {
		out.Objects[i].Box = out.Objects[i].Box.FlipX(w)
	}
	return out
}

func jitter(img *image.NRGBA, p *stageParams) *image.NRGBA {
	if p.brightness != 0 {
		img = imaging.AdjustBrightness(img, p.brightness)
	}
	if p.contrast != 0 {
		img = imaging.AdjustContrast(img, p.contrast)
	}
	if p.saturation != 0 {
		img = imaging.AdjustSaturation(img, p.saturation)
	}
	return img
}

// Stages returns the stochastic stages in application order
func Stages() []Stage {
	return []Stage{
		{
			Kind: StageFlipLR,
			Image: func(img *image.NRGBA, p *stageParams) *image.NRGBA {
				return imaging.FlipH(img)
			},
			Box: flipAnnotation,
		},
		{
			Kind: StageBlur,
			Image: func(img *image.NRGBA, p *stageParams) *image.NRGBA {
				return imaging.Blur(img, p.sigma)
			},
		},
		{
			Kind:  StageColorJitter,
			Image: jitter,
		},
		{
			Kind: StageGrayscale,
			Image: func(img *image.NRGBA, p *stageParams) *image.NRGBA {
				return imaging.Grayscale(img)
			},
		},
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// Decisions records which stages fire for one sequence, and their parameters
type Decisions struct {
	Active [numStages]bool
	params stageParams
}

// Any returns true if at least one stage fires
func (d *Decisions) Any() bool {
	for _, a := range d.Active {
		if a {
			return true
		}
	}
	return false
}

// Draw one Bernoulli(prob) decision per stage, in stage order, plus any parameters the
// firing stages need. The sequence of draws is fixed, so a seeded rng gives reproducible results.
func Draw(rng *rand.Rand, prob float64, jitterRange JitterRange) Decisions {
	d := Decisions{}
	for k := StageKind(0); k < numStages; k++ {
		if rng.Float64() < prob {
			d.Active[k] = true
			switch k {
			case StageBlur:
				d.params.sigma = uniform(rng, blurSigmaMin, blurSigmaMax)
			case StageColorJitter:
				d.params.brightness = uniform(rng, -jitterRange.Brightness, jitterRange.Brightness)
				d.params.contrast = uniform(rng, -jitterRange.Contrast, jitterRange.Contrast)
				d.params.saturation = uniform(rng, -jitterRange.Saturation, jitterRange.Saturation)
			}
		}
	}
	return d
}
