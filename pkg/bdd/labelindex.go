package bdd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/cyclopcam/bddseq/pkg/log"
	"github.com/cyclopcam/bddseq/pkg/workpool"
	"github.com/cyclopcam/logs"
)

var ErrNotFound = errors.New("Not found")

// Where the BDD100K archives can be downloaded from
const DownloadURL = "https://bdd-data.berkeley.edu/portal.html#download"

// Categories that appear in the BDD100K MOT 2020 box labels.
// The vocabulary is built from whatever the label files contain; this list is only used to
// point out unexpected categories, which usually mean the wrong label archive was downloaded.
var TrackCategories = []string{
	"bicycle",
	"bus",
	"car",
	"motorcycle",
	"other person",
	"other vehicle",
	"pedestrian",
	"rider",
	"trailer",
	"train",
	"truck",
}

// Box2D is the box of a label, in absolute pixel coordinates
type Box2D struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Label is one object annotation in a frame record
type Label struct {
	Category string `json:"category"`
	Box2D    *Box2D `json:"box2d"`
}

// FrameRecord is one element of an annotation file
type FrameRecord struct {
	Name   string  `json:"name"` // Image filename, relative to the sequence's image directory
	Labels []Label `json:"labels"`
}

// Read an annotation file, which holds a JSON list of frame records in temporal order
func ReadAnnotationFile(filename string) ([]FrameRecord, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	records := []FrameRecord{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("Error parsing annotation file %v: %w", filename, err)
	}
	return records, nil
}

// Return the label and image directories for a dataset split
func SplitDirs(root, dataset string, train bool) (labelDir, imageDir string) {
	split := "val"
	if train {
		split = "train"
	}
	labelDir = filepath.Join(root, "labels", fmt.Sprintf("box_%v_20", dataset), split)
	imageDir = filepath.Join(root, "images", dataset, split)
	return
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// LabelIndex knows every sequence of a dataset split, and the category vocabulary across all of them.
// It is built once and is read-only afterwards.
type LabelIndex struct {
	LabelDir string
	ImageDir string
	ids      []string
	vocab    *Vocabulary
}

// Scan the label directory of a split, reading every annotation file to build the vocabulary.
// Returns an error wrapping ErrNotFound, with a hint on where to download the data,
// if the label or image directory is missing.
func NewLabelIndex(logger logs.Log, labelDir, imageDir string, workers int) (*LabelIndex, error) {
	l := log.NewPrefixLogger(logger, "LabelIndex:")
	if !isDir(labelDir) {
		return nil, fmt.Errorf("%w: Could not find the label files in %v. Download \"MOT 2020 labels\" from %v", ErrNotFound, labelDir, DownloadURL)
	}
	if !isDir(imageDir) {
		return nil, fmt.Errorf("%w: Could not find the image files in %v. Download \"MOT 2020 Images\" from %v", ErrNotFound, imageDir, DownloadURL)
	}

	entries, err := os.ReadDir(labelDir)
	if err != nil {
		return nil, err
	}
	jsonFiles := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			jsonFiles = append(jsonFiles, e.Name())
		}
	}
	sort.Strings(jsonFiles)

	perFile, err := workpool.Map(workpool.New(workers), jsonFiles, func(i int, name string) ([]string, error) {
		records, err := ReadAnnotationFile(filepath.Join(labelDir, name))
		if err != nil {
			return nil, err
		}
		cats := []string{}
		for _, r := range records {
			for _, lab := range r.Labels {
				cats = append(cats, lab.Category)
			}
		}
		return cats, nil
	})
	if err != nil {
		return nil, err
	}

	all := []string{}
	for _, cats := range perFile {
		all = append(all, cats...)
	}
	idx := &LabelIndex{
		LabelDir: labelDir,
		ImageDir: imageDir,
		ids:      make([]string, len(jsonFiles)),
		vocab:    NewVocabulary(all),
	}
	for i, name := range jsonFiles {
		idx.ids[i] = strings.TrimSuffix(name, ".json")
	}
	for _, name := range idx.vocab.names {
		if !slices.Contains(TrackCategories, name) {
			l.Warnf("Unexpected category '%v'", name)
		}
	}
	l.Infof("%v sequences, %v categories in %v", len(idx.ids), idx.vocab.Len(), labelDir)
	return idx, nil
}

func (x *LabelIndex) Len() int {
	return len(x.ids)
}

// Return the sequence ids (annotation file names without extension), sorted
func (x *LabelIndex) IDs() []string {
	return slices.Clone(x.ids)
}

func (x *LabelIndex) ID(index int) string {
	return x.ids[index]
}

func (x *LabelIndex) Vocabulary() *Vocabulary {
	return x.vocab
}

func (x *LabelIndex) AnnotationFile(id string) string {
	return filepath.Join(x.LabelDir, id+".json")
}

func (x *LabelIndex) SequenceImageDir(id string) string {
	return filepath.Join(x.ImageDir, id)
}
