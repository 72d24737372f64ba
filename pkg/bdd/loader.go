package bdd

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/bddseq/pkg/log"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/bddseq/pkg/perfstats"
	"github.com/cyclopcam/bddseq/pkg/workpool"
	"github.com/cyclopcam/logs"
)

var ErrIndexOutOfRange = errors.New("Sample index out of range")
var ErrUnknownCategory = errors.New("Category not in vocabulary")

// Sequence is a fixed length run of frames, with one annotation per frame.
// If the sequence on disk is too short, the last frame and annotation are repeated.
type Sequence struct {
	ID          string
	Start       int          // Offset of the first frame within the sequence on disk
	Loaded      int          // Number of frames that came from disk; the rest are padding
	Frames      []*cimg.Image // RGB
	Annotations []nn.Annotation
}

func (s *Sequence) Len() int {
	return len(s.Frames)
}

// Loader options
type LoaderOptions struct {
	Root         string // Dataset root, holding labels/ and images/
	Dataset      string // Sub dataset, eg "track" for MOT 2020
	Train        bool   // Use the training split. Otherwise the validation split.
	SeqLen       int    // Number of frames per sequence
	RandomizeSeq bool   // Pick a random start offset, instead of starting at the first frame
	Seed         int64  // Seed for the start offset
	Workers      int    // Parallel frame loads per Get. Zero means GOMAXPROCS.
}

// Loader produces fixed-length sequences of frames and annotations from one dataset split
type Loader struct {
	Options  LoaderOptions
	log      *log.PrefixLogger
	index    *LabelIndex
	pool     *workpool.Pool
	rngLock  sync.Mutex
	rng      *rand.Rand
	loadTime perfstats.TimeAccumulator
	seqTime  atomic.Int64 // Moving average of Get, in nanoseconds
}

// Create a new loader. This scans all annotation files, so it fails immediately if the data is missing.
func NewLoader(logger logs.Log, opts LoaderOptions) (*Loader, error) {
	if opts.SeqLen <= 0 {
		return nil, fmt.Errorf("Sequence length must be positive, not %v", opts.SeqLen)
	}
	labelDir, imageDir := SplitDirs(opts.Root, opts.Dataset, opts.Train)
	index, err := NewLabelIndex(logger, labelDir, imageDir, opts.Workers)
	if err != nil {
		return nil, err
	}
	return &Loader{
		Options: opts,
		log:     log.NewPrefixLogger(logger, "BDD:"),
		index:   index,
		pool:    workpool.New(opts.Workers),
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

func (l *Loader) Len() int {
	return l.index.Len()
}

func (l *Loader) Index() *LabelIndex {
	return l.index
}

func (l *Loader) Vocabulary() *Vocabulary {
	return l.index.Vocabulary()
}

// Average time to load and decode a single frame
func (l *Loader) FrameLoadTime() time.Duration {
	return l.loadTime.Average()
}

// Moving average of the time taken to load a whole sequence
func (l *Loader) SequenceLoadTime() time.Duration {
	return time.Duration(l.seqTime.Load())
}

// Choose the first frame of the window
func (l *Loader) startOffset(total int) int {
	if !l.Options.RandomizeSeq {
		return 0
	}
	l.rngLock.Lock()
	defer l.rngLock.Unlock()
	return l.rng.Intn(max(total-l.Options.SeqLen, 0) + 1)
}

// Decode one frame, and convert its labels into objects
func (l *Loader) loadFrame(imageDir string, rec FrameRecord) (*cimg.Image, nn.Annotation, error) {
	start := time.Now()
	img, err := cimg.ReadFile(filepath.Join(imageDir, rec.Name))
	if err != nil {
		return nil, nn.Annotation{}, fmt.Errorf("Error reading frame %v: %w", rec.Name, err)
	}
	img = img.ToRGB()
	ann := nn.Annotation{
		Size:    nn.Size{Height: img.Height, Width: img.Width},
		Objects: make([]nn.Object, 0, len(rec.Labels)),
	}
	vocab := l.index.Vocabulary()
	for _, lab := range rec.Labels {
		if lab.Box2D == nil {
			return nil, nn.Annotation{}, fmt.Errorf("Label '%v' in frame %v has no box2d", lab.Category, rec.Name)
		}
		id, ok := vocab.ID(lab.Category)
		if !ok {
			return nil, nn.Annotation{}, fmt.Errorf("%w: '%v' in frame %v", ErrUnknownCategory, lab.Category, rec.Name)
		}
		ann.Objects = append(ann.Objects, nn.Object{
			ID:   id,
			Name: lab.Category,
			Box: nn.Box{
				XMin: lab.Box2D.X1,
				YMin: lab.Box2D.Y1,
				XMax: lab.Box2D.X2,
				YMax: lab.Box2D.Y2,
			},
		})
	}
	l.loadTime.Since(start)
	return img, ann, nil
}

type loadedFrame struct {
	img *cimg.Image
	ann nn.Annotation
}

// Get loads sequence 'index'. Frames are decoded in parallel, but returned in temporal order.
// The result always holds exactly SeqLen frames.
func (l *Loader) Get(index int) (*Sequence, error) {
	if index < 0 || index >= l.index.Len() {
		return nil, fmt.Errorf("%w: %v, dataset has %v sequences", ErrIndexOutOfRange, index, l.index.Len())
	}
	getStart := time.Now()
	id := l.index.ID(index)
	records, err := ReadAnnotationFile(l.index.AnnotationFile(id))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("Sequence %v has no frames", id)
	}

	start := l.startOffset(len(records))
	window := records[start:min(start+l.Options.SeqLen, len(records))]
	l.log.Debugf("Sequence %v: frames [%v, %v) of %v", id, start, start+len(window), len(records))

	imageDir := l.index.SequenceImageDir(id)
	frames, err := workpool.Map(l.pool, window, func(i int, rec FrameRecord) (loadedFrame, error) {
		img, ann, err := l.loadFrame(imageDir, rec)
		return loadedFrame{img, ann}, err
	})
	if err != nil {
		return nil, err
	}

	seq := &Sequence{
		ID:          id,
		Start:       start,
		Loaded:      len(frames),
		Frames:      make([]*cimg.Image, 0, l.Options.SeqLen),
		Annotations: make([]nn.Annotation, 0, l.Options.SeqLen),
	}
	for _, f := range frames {
		seq.Frames = append(seq.Frames, f.img)
		seq.Annotations = append(seq.Annotations, f.ann)
	}
	last := frames[len(frames)-1]
	for len(seq.Frames) < l.Options.SeqLen {
		seq.Frames = append(seq.Frames, last.img)
		seq.Annotations = append(seq.Annotations, last.ann.Clone())
	}
	perfstats.UpdateMovingAverage(&l.seqTime, int64(time.Since(getStart)))
	return seq, nil
}
