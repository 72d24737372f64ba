package bdd

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/cyclopcam/bddseq/pkg/augment"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/logs"
	"gorgonia.org/tensor"
)

// DatasetOptions configure a Dataset
type DatasetOptions struct {
	LoaderOptions
	Height      int                 // Output frame height, eg 448
	Width       int                 // Output frame width, eg 448
	AugmentProb float64             // Probability of each augmentation, per sequence
	Jitter      augment.JitterRange // Colour jitter ranges
}

// Create options with the usual defaults for MOT 2020
func NewDatasetOptions(root string) DatasetOptions {
	return DatasetOptions{
		LoaderOptions: LoaderOptions{
			Root:    root,
			Dataset: "track",
			SeqLen:  32,
		},
		Height: 448,
		Width:  448,
	}
}

// Dataset produces augmented, resized (C, H, W, T) sequence tensors with matching annotations
type Dataset struct {
	loaders  []*Loader
	pipeline *augment.Pipeline
	rngLock  sync.Mutex
	rng      *rand.Rand
}

func NewDataset(logger logs.Log, opts DatasetOptions) (*Dataset, error) {
	if opts.Height <= 0 || opts.Width <= 0 {
		return nil, fmt.Errorf("Invalid output size %vx%v", opts.Width, opts.Height)
	}
	loader, err := NewLoader(logger, opts.LoaderOptions)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		loaders: []*Loader{loader},
		pipeline: augment.NewPipeline(augment.Options{
			Height:      opts.Height,
			Width:       opts.Width,
			AugmentProb: opts.AugmentProb,
			Jitter:      opts.Jitter,
			Workers:     opts.Workers,
		}),
		// Offset the seed so that augmentation and start offsets don't draw the same numbers
		rng: rand.New(rand.NewSource(opts.Seed + 1)),
	}, nil
}

// Total number of sequences across all sub-loaders
func (d *Dataset) Len() int {
	n := 0
	for _, l := range d.loaders {
		n += l.Len()
	}
	return n
}

// Category names, indexed by id
func (d *Dataset) Classes() []string {
	return d.loaders[0].Vocabulary().Names()
}

func (d *Dataset) IDMap() map[string]int {
	return d.loaders[0].Vocabulary().IDMap()
}

func (d *Dataset) Vocabulary() *Vocabulary {
	return d.loaders[0].Vocabulary()
}

func (d *Dataset) Pipeline() *augment.Pipeline {
	return d.pipeline
}

func (d *Dataset) Loader() *Loader {
	return d.loaders[0]
}

// Get returns sample 'index' as a (C, H, W, T) tensor and one annotation per frame.
// Boxes are in pixel coordinates of the output size.
func (d *Dataset) Get(index int) (*tensor.Dense, []nn.Annotation, error) {
	if index < 0 || index >= d.Len() {
		return nil, nil, fmt.Errorf("%w: %v, dataset has %v sequences", ErrIndexOutOfRange, index, d.Len())
	}
	// All sub-loaders are assumed to be the same length as the first
	per := d.loaders[0].Len()
	seq, err := d.loaders[index/per].Get(index % per)
	if err != nil {
		return nil, nil, err
	}

	d.rngLock.Lock()
	decisions := augment.Draw(d.rng, d.pipeline.Options.AugmentProb, d.pipeline.Options.Jitter)
	d.rngLock.Unlock()

	return d.pipeline.Apply(decisions, seq.Frames, seq.Annotations)
}
