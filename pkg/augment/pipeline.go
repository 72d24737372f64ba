package augment

import (
	"errors"
	"fmt"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/bddseq/pkg/perfstats"
	"github.com/cyclopcam/bddseq/pkg/workpool"
	"gorgonia.org/tensor"
)

var ErrEmpty = errors.New("Sequence has no frames")

// Options for the augmentation pipeline
type Options struct {
	Height      int         // Output frame height
	Width       int         // Output frame width
	AugmentProb float64     // Probability that each stage fires for a sequence. Zero disables augmentation.
	Jitter      JitterRange // Colour jitter ranges. Zero value is identity.
	Workers     int         // Per-frame parallelism. Zero means GOMAXPROCS.
}

// Pipeline applies sequence-consistent augmentation, resizes, and stacks frames into one tensor
type Pipeline struct {
	Options   Options
	stages    []Stage
	pool      *workpool.Pool
	frameTime perfstats.TimeAccumulator
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		Options: opts,
		stages:  Stages(),
		pool:    workpool.New(opts.Workers),
	}
}

// Average time spent transforming a single frame
func (p *Pipeline) FrameTime() time.Duration {
	return p.frameTime.Average()
}

// Transform one frame's pixels through the active stages, then resize and convert to (C,H,W)
func (p *Pipeline) transformFrame(d *Decisions, frame *cimg.Image) *tensor.Dense {
	start := time.Now()
	img := frame
	if d.Any() {
		nrgba := toNRGBA(frame)
		for i := range p.stages {
			s := &p.stages[i]
			if d.Active[s.Kind] {
				nrgba = s.Image(nrgba, &d.params)
			}
		}
		img = fromNRGBA(nrgba)
	}
	t := toTensor(resize(img, p.Options.Width, p.Options.Height))
	p.frameTime.Since(start)
	return t
}

// Apply the augmentation described by 'd' to a sequence.
// Frames are processed in parallel. The result is a (C, H, W, T) tensor, and one annotation
// per frame with boxes mirrored (if flipped) and rescaled to the output size.
// The input frames and annotations are not modified.
func (p *Pipeline) Apply(d Decisions, frames []*cimg.Image, annotations []nn.Annotation) (*tensor.Dense, []nn.Annotation, error) {
	if len(frames) == 0 {
		return nil, nil, ErrEmpty
	}
	if len(frames) != len(annotations) {
		return nil, nil, fmt.Errorf("%v frames but %v annotations", len(frames), len(annotations))
	}

	tensors, err := workpool.Map(p.pool, frames, func(i int, frame *cimg.Image) (*tensor.Dense, error) {
		if frame.NChan() < 3 {
			return nil, fmt.Errorf("Frame %v has %v channels, expected RGB", i, frame.NChan())
		}
		return p.transformFrame(&d, frame), nil
	})
	if err != nil {
		return nil, nil, err
	}

	outAnn := make([]nn.Annotation, len(annotations))
	for i, ann := range annotations {
		ann = ann.Clone()
		for j := range p.stages {
			s := &p.stages[j]
			if d.Active[s.Kind] && !s.Photometric() {
				ann = s.Box(ann)
			}
		}
		outAnn[i] = resizeAnnotation(ann, p.Options.Height, p.Options.Width)
	}
	return stack(tensors), outAnn, nil
}

// Rescale boxes from the annotation's image size to height x width, each axis independently
func resizeAnnotation(ann nn.Annotation, height, width int) nn.Annotation {
	sx := float32(width) / float32(ann.Size.Width)
	sy := float32(height) / float32(ann.Size.Height)
	out := ann.Clone()
	for i := range out.Objects {
		out.Objects[i].Box = out.Objects[i].Box.Scale(sx, sy)
	}
	out.Size = nn.Size{Height: height, Width: width}
	return out
}
