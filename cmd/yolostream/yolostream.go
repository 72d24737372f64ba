package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/bddseq/pkg/bdd"
	"github.com/cyclopcam/bddseq/pkg/config"
	"github.com/cyclopcam/bddseq/pkg/delta"
	"github.com/cyclopcam/bddseq/pkg/monitor"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/bddseq/pkg/stream"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// One line of output per streamed frame
type frameRecord struct {
	monitor.Step
	Sample int `json:"sample"`
	Frame  int `json:"frame"`
	Events int `json:"events"` // Non-zero delta encoder outputs
}

// Quantize a (C,H,W) frame in [0,1] to 8 bit integer activations
func quantize(frame *tensor.Dense, dst []int32) []int32 {
	data := frame.Data().([]float32)
	if len(dst) != len(data) {
		dst = make([]int32, len(data))
	}
	for i, v := range data {
		dst[i] = int32(v*255 + 0.5)
	}
	return dst
}

// Read the raw (W,H,A*P) detector output for one frame from a .npy file
func readPrediction(filename string) (*tensor.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw := new(tensor.Dense)
	if err := raw.ReadNpy(f); err != nil {
		return nil, fmt.Errorf("Error reading %v: %w", filename, err)
	}
	return raw, nil
}

func main() {
	parser := argparse.NewParser("yolostream", "Stream a dataset split frame by frame, delta encode it, and score detector output")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file (.yaml or .json)", Required: true})
	start := parser.Int("s", "start", &argparse.Options{Help: "Index of the first sample", Default: 0})
	numFrames := parser.Int("n", "frames", &argparse.Options{Help: "Number of frames to stream", Default: 64})
	predDir := parser.String("p", "predictions", &argparse.Options{Help: "Directory of raw detector outputs, one <frame>.npy per streamed frame. Without it, ground truth is scored against itself.", Required: false})
	modelFile := parser.String("m", "model", &argparse.Options{Help: "Model config (.json) with the anchors of the detector. Overrides the anchors in the config file.", Required: false})
	outDir := parser.String("o", "output", &argparse.Options{Help: "Write annotated frames into this directory", Required: false})
	events := parser.Flag("e", "events", &argparse.Options{Help: "Render delta encoder events instead of RGB frames", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	cfg, err := config.Load(*configFile)
	check(err)

	dataset, err := bdd.NewDataset(logger, cfg.DatasetOptions())
	check(err)

	var decoder *nn.BoxDecoder
	if *predDir != "" {
		var model *nn.ModelConfig
		if *modelFile != "" {
			model, err = nn.LoadModelConfig(*modelFile)
			check(err)
			if len(model.Classes) != 0 && len(model.Classes) != len(dataset.Classes()) {
				logger.Warnf("Model has %v classes, but the dataset has %v", len(model.Classes), len(dataset.Classes()))
			}
		} else {
			if len(cfg.Anchors) == 0 {
				check(fmt.Errorf("Config %v has no anchors, which are needed to decode predictions. Add them, or pass a model config.", *configFile))
			}
			model = cfg.ModelConfig(dataset.Classes())
		}
		decoder = model.Decoder()
	}
	nmsParams := cfg.NMSParams()

	monOpts := cfg.MonitorOptions()
	monOpts.Events = *events
	if *outDir != "" {
		check(os.MkdirAll(*outDir, 0755))
		monOpts.Callback = func(annotated image.Image, score float64, step int) {
			if err := imaging.Save(annotated, filepath.Join(*outDir, fmt.Sprintf("%06d.jpg", step))); err != nil {
				logger.Errorf("Failed to save frame %v: %v", step, err)
			}
		}
	}
	mon := monitor.NewMonitor(logger, dataset.Classes(), monOpts)

	streamer, err := stream.NewStreamer(dataset, *start, cfg.StreamNormalization())
	check(err)
	encoder := cfg.DeltaEncoder()
	var act []int32

	out := json.NewEncoder(os.Stdout)
	streamed := 0
	for i := 0; i < *numFrames; i++ {
		sample := streamer.State.SampleIdx - 1
		frameIdx := streamer.State.FrameIdx
		f, err := streamer.Advance()
		last := false
		if f.Raw == nil {
			check(err)
		} else if err != nil {
			// The frame is valid, but the next sample could not be loaded
			logger.Warnf("Stopping stream after this frame: %v", err)
			last = true
		}

		act = quantize(f.Raw, act)
		spikes, err := encoder.Encode(act)
		check(err)
		numEvents := len(delta.Sparse(spikes))

		truth := f.Annotation.NormalizedBoxes()
		var preds []nn.Prediction
		if decoder != nil {
			raw, err := readPrediction(filepath.Join(*predDir, fmt.Sprintf("%06d.npy", i)))
			check(err)
			dets, err := decoder.Decode(raw)
			check(err)
			preds = nn.NMS(dets, nmsParams)
		} else {
			preds = truth
		}

		input := f.Raw
		if *events {
			// One channel frame of signed events, scaled back to [-1, 1]
			shape := f.Raw.Shape()
			C, HW := shape[0], shape[1]*shape[2]
			scale := float32(int(255<<encoder.State.SpikeExp) * C)
			ev := make([]float32, HW)
			for c := 0; c < C; c++ {
				for j := 0; j < HW; j++ {
					ev[j] += float32(spikes[c*HW+j]) / scale
				}
			}
			input = tensor.New(tensor.WithShape(1, shape[1], shape[2]), tensor.WithBacking(ev))
		}
		mon.Record(input, truth, preds)

		step, err := mon.Drain()
		check(err)
		check(out.Encode(frameRecord{
			Step:   step,
			Sample: sample,
			Frame:  frameIdx,
			Events: numEvents,
		}))
		streamed++
		if last {
			break
		}
	}
	logger.Infof("Streamed %v frames. mAP %.4f, recent mAP %.4f", streamed, mon.MAP(), mon.RecentMean())
	if monOpts.Callback != nil {
		logger.Infof("Average render time %v", mon.RenderTime())
	}
}
