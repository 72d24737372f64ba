package bdd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const testWidth = 32
const testHeight = 16

// Write a dataset split under root, with one sequence per entry of 'sequences'.
// Each sequence is a list of per-frame category lists.
func writeTestSplit(t *testing.T, root string, sequences map[string][][]string) {
	labelDir, imageDir := SplitDirs(root, "track", false)
	require.NoError(t, os.MkdirAll(labelDir, 0755))
	require.NoError(t, os.MkdirAll(imageDir, 0755))

	for id, frames := range sequences {
		seqDir := filepath.Join(imageDir, id)
		require.NoError(t, os.MkdirAll(seqDir, 0755))
		records := []FrameRecord{}
		for i, cats := range frames {
			name := fmt.Sprintf("%v-%07d.jpg", id, i+1)
			img := cimg.NewImage(testWidth, testHeight, cimg.PixelFormatRGB)
			for j := range img.Pixels {
				img.Pixels[j] = byte(10 * i)
			}
			jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling444, 99, 0))
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(seqDir, name), jpg, 0644))

			rec := FrameRecord{Name: name}
			for k, c := range cats {
				// Encode the frame number in x1, so tests can check ordering
				rec.Labels = append(rec.Labels, Label{Category: c, Box2D: &Box2D{X1: float32(i), Y1: float32(k), X2: float32(i + 4), Y2: float32(k + 4)}})
			}
			records = append(records, rec)
		}
		raw, err := json.Marshal(records)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(labelDir, id+".json"), raw, 0644))
	}
	// Files without the .json extension are not sequences
	require.NoError(t, os.WriteFile(filepath.Join(labelDir, "README.txt"), []byte("hello"), 0644))
}

func testSequences() map[string][][]string {
	return map[string][][]string{
		"b1c66a42-6f7d68ca": {{"car", "pedestrian"}, {"car"}, {"truck"}},
		"b1c81faa-3df17267": {{"bus"}, {"car"}, {"car"}, {"car"}, {"rider"}, {"car"}, {}, {"car"}},
	}
}

func testOptions(root string, seqLen int) LoaderOptions {
	return LoaderOptions{
		Root:    root,
		Dataset: "track",
		SeqLen:  seqLen,
		Workers: 3,
	}
}

func newTestLoader(t *testing.T, root string, seqLen int) *Loader {
	l, err := NewLoader(logs.NewTestingLog(t), testOptions(root, seqLen))
	require.NoError(t, err)
	return l
}

func TestMissingDirectories(t *testing.T) {
	root := t.TempDir()
	_, err := NewLoader(logs.NewTestingLog(t), testOptions(root, 4))
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "MOT 2020 labels")
	require.Contains(t, err.Error(), DownloadURL)

	labelDir, _ := SplitDirs(root, "track", false)
	require.NoError(t, os.MkdirAll(labelDir, 0755))
	_, err = NewLoader(logs.NewTestingLog(t), testOptions(root, 4))
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "MOT 2020 Images")
}

func TestVocabulary(t *testing.T) {
	root := t.TempDir()
	writeTestSplit(t, root, testSequences())
	l1, err := NewLoader(logs.NewTestingLog(t), testOptions(root, 4))
	require.NoError(t, err)
	require.Equal(t, 2, l1.Len())
	require.Equal(t, []string{"b1c66a42-6f7d68ca", "b1c81faa-3df17267"}, l1.Index().IDs())

	require.Equal(t, []string{"bus", "car", "pedestrian", "rider", "truck"}, l1.Vocabulary().Names())
	id, ok := l1.Vocabulary().ID("pedestrian")
	require.True(t, ok)
	require.Equal(t, 2, id)
	require.Equal(t, "truck", l1.Vocabulary().Name(4))
	require.Equal(t, "", l1.Vocabulary().Name(5))

	l2, err := NewLoader(logs.NewTestingLog(t), testOptions(root, 4))
	require.NoError(t, err)
	require.Equal(t, l1.Vocabulary().IDMap(), l2.Vocabulary().IDMap())

	// A frame without labels
	seq, err := newTestLoader(t, root, 8).Get(1)
	require.NoError(t, err)
	require.Empty(t, seq.Annotations[6].Objects)

	require.Equal(t, NewVocabulary([]string{"b", "a", "b"}).Names(), []string{"a", "b"})
}

func TestPadding(t *testing.T) {
	root := t.TempDir()
	writeTestSplit(t, root, testSequences())
	l, err := NewLoader(logs.NewTestingLog(t), testOptions(root, 6))
	require.NoError(t, err)

	seq, err := l.Get(0)
	require.NoError(t, err)
	require.Equal(t, 6, seq.Len())
	require.Equal(t, 3, seq.Loaded)
	for i := 3; i < 6; i++ {
		require.True(t, seq.Frames[i] == seq.Frames[2])
		require.Equal(t, seq.Annotations[2], seq.Annotations[i])
	}
	// Temporal order is preserved
	for i := 0; i < 3; i++ {
		require.Equal(t, float32(i), seq.Annotations[i].Objects[0].Box.XMin)
		require.Equal(t, nn.Size{Height: testHeight, Width: testWidth}, seq.Annotations[i].Size)
	}
	require.Equal(t, "car", seq.Annotations[0].Objects[0].Name)
	require.Equal(t, 1, seq.Annotations[0].Objects[0].ID)
	require.Equal(t, 2, seq.Annotations[0].Objects[1].ID)

	// Long sequence, truncated to SeqLen
	seq, err = l.Get(1)
	require.NoError(t, err)
	require.Equal(t, 6, seq.Len())
	require.Equal(t, 6, seq.Loaded)
	require.Equal(t, "rider", seq.Annotations[4].Objects[0].Name)
	require.Equal(t, float32(5), seq.Annotations[5].Objects[0].Box.XMin)

	require.Greater(t, l.SequenceLoadTime(), time.Duration(0))
	require.Greater(t, l.FrameLoadTime(), time.Duration(0))
}

func TestRandomStart(t *testing.T) {
	root := t.TempDir()
	writeTestSplit(t, root, testSequences())
	opts := testOptions(root, 3)
	opts.RandomizeSeq = true
	opts.Seed = 99

	draw := func() []int {
		l, err := NewLoader(logs.NewTestingLog(t), opts)
		require.NoError(t, err)
		starts := []int{}
		for i := 0; i < 20; i++ {
			seq, err := l.Get(1)
			require.NoError(t, err)
			require.GreaterOrEqual(t, seq.Start, 0)
			require.LessOrEqual(t, seq.Start, 8-3)
			require.Equal(t, float32(seq.Start), seq.Annotations[0].Objects[0].Box.XMin)
			starts = append(starts, seq.Start)

			// The short sequence always starts at zero
			seq, err = l.Get(0)
			require.NoError(t, err)
			require.Equal(t, 0, seq.Start)
		}
		return starts
	}
	require.Equal(t, draw(), draw())
}

func TestGetErrors(t *testing.T) {
	root := t.TempDir()
	writeTestSplit(t, root, testSequences())
	l, err := NewLoader(logs.NewTestingLog(t), testOptions(root, 4))
	require.NoError(t, err)
	_, err = l.Get(2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = l.Get(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	// A frame that has gone missing aborts the whole load
	_, imageDir := SplitDirs(root, "track", false)
	require.NoError(t, os.Remove(filepath.Join(imageDir, "b1c66a42-6f7d68ca", "b1c66a42-6f7d68ca-0000002.jpg")))
	_, err = l.Get(0)
	require.Error(t, err)

	// A category that wasn't there at construction
	labelDir, _ := SplitDirs(root, "track", false)
	records := []FrameRecord{{Name: "b1c81faa-3df17267-0000001.jpg", Labels: []Label{{Category: "zebra", Box2D: &Box2D{}}}}}
	raw, _ := json.Marshal(records)
	require.NoError(t, os.WriteFile(filepath.Join(labelDir, "b1c81faa-3df17267.json"), raw, 0644))
	_, err = l.Get(1)
	require.ErrorIs(t, err, ErrUnknownCategory)

	_, err = NewLoader(logs.NewTestingLog(t), testOptions(root, 0))
	require.Error(t, err)
}

func TestMalformedAnnotation(t *testing.T) {
	root := t.TempDir()
	writeTestSplit(t, root, testSequences())
	labelDir, _ := SplitDirs(root, "track", false)
	require.NoError(t, os.WriteFile(filepath.Join(labelDir, "broken.json"), []byte("[{\"name\": "), 0644))
	_, err := NewLoader(logs.NewTestingLog(t), testOptions(root, 4))
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.json")
}

func TestDataset(t *testing.T) {
	root := t.TempDir()
	writeTestSplit(t, root, testSequences())
	opts := NewDatasetOptions(root)
	opts.SeqLen = 4
	opts.Height = 8
	opts.Width = 16
	opts.AugmentProb = 1
	ds, err := NewDataset(logs.NewTestingLog(t), opts)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	require.Equal(t, []string{"bus", "car", "pedestrian", "rider", "truck"}, ds.Classes())

	frames, anns, err := ds.Get(0)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{3, 8, 16, 4}, frames.Shape())
	require.Len(t, anns, 4)
	// Flipped (augment prob 1), then scaled by 0.5 in both axes
	first := anns[0].Objects[0].Box
	require.Equal(t, nn.Box{XMin: (testWidth - 4) * 0.5, YMin: 0, XMax: testWidth * 0.5, YMax: 2}, first)
	require.Equal(t, nn.Size{Height: 8, Width: 16}, anns[0].Size)

	_, _, err = ds.Get(2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}
