package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/bddseq/pkg/bdd"
	"github.com/cyclopcam/bddseq/pkg/config"
	"github.com/cyclopcam/bddseq/pkg/monitor"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/bddseq/pkg/workpool"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

type tensorStats struct {
	Shape []int   `json:"shape"`
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
	Mean  float32 `json:"mean"`
}

type sampleDump struct {
	Index       int             `json:"index"`
	Tensor      tensorStats     `json:"tensor"`
	Annotations []nn.Annotation `json:"annotations"`
}

type summary struct {
	Sequences     int      `json:"sequences"`
	Classes       []string `json:"classes"`
	FrameLoadTime string   `json:"frameLoadTime,omitempty"`
	SequenceTime  string   `json:"sequenceTime,omitempty"`
	AugmentTime   string   `json:"augmentTime,omitempty"`
}

func statsOf(t *tensor.Dense) tensorStats {
	data := t.Data().([]float32)
	s := tensorStats{Shape: t.Shape().Clone()}
	if len(data) == 0 {
		return s
	}
	s.Min = data[0]
	s.Max = data[0]
	sum := float64(0)
	for _, v := range data {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += float64(v)
	}
	s.Mean = float32(sum / float64(len(data)))
	return s
}

// Write every frame of a (C,H,W,T) sample, with its boxes drawn, as JPEG files into dir
func writeFrames(dir string, index int, classes []string, seq *tensor.Dense, annotations []nn.Annotation) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	renderer := monitor.NewRenderer(classes, 0, false)
	T := seq.Shape()[3]
	frames := make([]int, T)
	for t := range frames {
		frames[t] = t
	}
	return workpool.Each(workpool.New(0), frames, func(_ int, t int) error {
		view, err := seq.Slice(nil, nil, nil, tensor.S(t))
		if err != nil {
			return err
		}
		frame := view.(*tensor.Dense).Materialize().(*tensor.Dense)
		img, err := renderer.Render(frame, annotations[t].NormalizedBoxes(), nil)
		if err != nil {
			return err
		}
		return imaging.Save(img, filepath.Join(dir, fmt.Sprintf("%06d-%03d.jpg", index, t)))
	})
}

func main() {
	parser := argparse.NewParser("bddseq", "Inspect a BDD100K MOT dataset split, and dump augmented samples")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file (.yaml or .json)", Required: false})
	root := parser.String("r", "root", &argparse.Options{Help: "Dataset root, if no config file is given", Required: false})
	train := parser.Flag("t", "train", &argparse.Options{Help: "Use the training split (only without a config file)", Default: false})
	indices := parser.IntList("i", "index", &argparse.Options{Help: "Sample index to dump. May be repeated.", Required: false})
	frameDir := parser.String("f", "frames", &argparse.Options{Help: "Write the frames of each dumped sample into this directory", Required: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		check(err)
	} else {
		cfg = config.NewConfig(*root)
		cfg.Train = *train
		check(cfg.Validate())
	}

	dataset, err := bdd.NewDataset(logger, cfg.DatasetOptions())
	check(err)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	for _, index := range *indices {
		seq, annotations, err := dataset.Get(index)
		check(err)
		check(encoder.Encode(sampleDump{
			Index:       index,
			Tensor:      statsOf(seq),
			Annotations: annotations,
		}))
		if *frameDir != "" {
			check(writeFrames(*frameDir, index, dataset.Classes(), seq, annotations))
		}
	}

	s := summary{
		Sequences: dataset.Len(),
		Classes:   dataset.Classes(),
	}
	if len(*indices) != 0 {
		s.FrameLoadTime = dataset.Loader().FrameLoadTime().String()
		s.SequenceTime = dataset.Loader().SequenceLoadTime().String()
		s.AugmentTime = dataset.Pipeline().FrameTime().String()
	}
	check(encoder.Encode(s))
}
