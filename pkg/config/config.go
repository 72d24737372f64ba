// Package config reads the dataset and decoder settings for the command line tools
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/bddseq/pkg/augment"
	"github.com/cyclopcam/bddseq/pkg/bdd"
	"github.com/cyclopcam/bddseq/pkg/delta"
	"github.com/cyclopcam/bddseq/pkg/monitor"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/cyclopcam/bddseq/pkg/stream"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("Invalid config")

type Normalization struct {
	Mean []float32 `json:"mean" yaml:"mean"`
	Std  []float32 `json:"std" yaml:"std"`
}

type NMS struct {
	ConfThreshold float32 `json:"confThreshold" yaml:"confThreshold"`
	NmsThreshold  float32 `json:"nmsThreshold" yaml:"nmsThreshold"`
	MergeConf     *bool   `json:"mergeConf" yaml:"mergeConf"` // nil means true
	MaxDetections int     `json:"maxDetections" yaml:"maxDetections"`
	MaxIterations int     `json:"maxIterations" yaml:"maxIterations"`
}

type Delta struct {
	Vth      int32 `json:"vth" yaml:"vth"`
	SpikeExp uint  `json:"spikeExp" yaml:"spikeExp"`
	NumBits  int   `json:"numBits" yaml:"numBits"` // Zero disables clipping
}

// Config is everything needed to build a dataset, stream it, and decode a detector's output.
// Zero valued fields are replaced by defaults when loaded.
type Config struct {
	Root          string              `json:"root" yaml:"root"`
	Dataset       string              `json:"dataset" yaml:"dataset"`
	Train         bool                `json:"train" yaml:"train"`
	Height        int                 `json:"height" yaml:"height"`
	Width         int                 `json:"width" yaml:"width"`
	SeqLen        int                 `json:"seqLen" yaml:"seqLen"`
	RandomizeSeq  bool                `json:"randomizeSeq" yaml:"randomizeSeq"`
	AugmentProb   float64             `json:"augmentProb" yaml:"augmentProb"`
	Jitter        augment.JitterRange `json:"jitter" yaml:"jitter"`
	Seed          int64               `json:"seed" yaml:"seed"`
	Workers       int                 `json:"workers" yaml:"workers"`
	Normalization *Normalization      `json:"normalization" yaml:"normalization"` // nil means frames are not normalized
	Anchors       [][]float32         `json:"anchors" yaml:"anchors"`             // [[w,h], ...]
	ClampMax      float32             `json:"clampMax" yaml:"clampMax"`
	NMS           NMS                 `json:"nms" yaml:"nms"`
	Delta         Delta               `json:"delta" yaml:"delta"`
	IoUThreshold  float32             `json:"iouThreshold" yaml:"iouThreshold"`
}

// Create a config with all defaults
func NewConfig(root string) *Config {
	c := &Config{Root: root}
	c.setDefaults()
	return c
}

// Load a config from a .yaml/.yml file, or otherwise a JSON file.
// Defaults are applied, and the result is validated.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		err = json.Unmarshal(b, c)
	}
	if err != nil {
		return nil, fmt.Errorf("Error parsing config %v: %w", filename, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	d := bdd.NewDatasetOptions(c.Root)
	if c.Dataset == "" {
		c.Dataset = d.Dataset
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.SeqLen == 0 {
		c.SeqLen = d.SeqLen
	}
	if c.ClampMax == 0 {
		c.ClampMax = nn.DefaultClampMax
	}
	if c.NMS.ConfThreshold == 0 {
		c.NMS.ConfThreshold = nn.DefaultConfThreshold
	}
	if c.NMS.NmsThreshold == 0 {
		c.NMS.NmsThreshold = nn.DefaultNmsIouThreshold
	}
	if c.NMS.MaxDetections == 0 {
		c.NMS.MaxDetections = nn.DefaultMaxDetections
	}
	if c.NMS.MaxIterations == 0 {
		c.NMS.MaxIterations = nn.DefaultMaxIterations
	}
	if c.IoUThreshold == 0 {
		c.IoUThreshold = monitor.DefaultIoUThreshold
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrInvalid, fmt.Sprintf(format, args...))
}

// Returns an error wrapping ErrInvalid if any setting is out of range
func (c *Config) Validate() error {
	if c.Root == "" {
		return invalid("root must be set")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return invalid("frame size %vx%v", c.Width, c.Height)
	}
	if c.SeqLen <= 0 {
		return invalid("seqLen %v", c.SeqLen)
	}
	if c.AugmentProb < 0 || c.AugmentProb > 1 {
		return invalid("augmentProb %v is not in [0,1]", c.AugmentProb)
	}
	if c.Jitter.Brightness < 0 || c.Jitter.Contrast < 0 || c.Jitter.Saturation < 0 {
		return invalid("jitter ranges may not be negative")
	}
	if c.Workers < 0 {
		return invalid("workers %v", c.Workers)
	}
	if n := c.Normalization; n != nil {
		if len(n.Mean) == 0 || len(n.Mean) != len(n.Std) {
			return invalid("normalization has %v means and %v stds", len(n.Mean), len(n.Std))
		}
		for _, s := range n.Std {
			if s == 0 {
				return invalid("normalization std may not be zero")
			}
		}
	}
	for i, a := range c.Anchors {
		if len(a) != 2 || a[0] <= 0 || a[1] <= 0 {
			return invalid("anchor %v must be a positive [width, height] pair, got %v", i, a)
		}
	}
	if c.ClampMax < 0 {
		return invalid("clampMax %v", c.ClampMax)
	}
	if c.NMS.ConfThreshold < 0 || c.NMS.ConfThreshold >= 1 {
		return invalid("nms.confThreshold %v is not in [0,1)", c.NMS.ConfThreshold)
	}
	if c.NMS.NmsThreshold <= 0 || c.NMS.NmsThreshold > 1 {
		return invalid("nms.nmsThreshold %v is not in (0,1]", c.NMS.NmsThreshold)
	}
	if c.NMS.MaxDetections < 0 || c.NMS.MaxIterations < 0 {
		return invalid("nms limits may not be negative")
	}
	if err := delta.CheckParams(c.Delta.Vth, c.Delta.SpikeExp, c.Delta.NumBits); err != nil {
		return fmt.Errorf("%w: delta: %w", ErrInvalid, err)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return invalid("iouThreshold %v is not in (0,1]", c.IoUThreshold)
	}
	return nil
}

func (c *Config) DatasetOptions() bdd.DatasetOptions {
	return bdd.DatasetOptions{
		LoaderOptions: bdd.LoaderOptions{
			Root:         c.Root,
			Dataset:      c.Dataset,
			Train:        c.Train,
			SeqLen:       c.SeqLen,
			RandomizeSeq: c.RandomizeSeq,
			Seed:         c.Seed,
			Workers:      c.Workers,
		},
		Height:      c.Height,
		Width:       c.Width,
		AugmentProb: c.AugmentProb,
		Jitter:      c.Jitter,
	}
}

func (c *Config) NMSParams() *nn.NMSParams {
	p := nn.NewNMSParams()
	p.ConfThreshold = c.NMS.ConfThreshold
	p.NmsThreshold = c.NMS.NmsThreshold
	if c.NMS.MergeConf != nil {
		p.MergeConf = *c.NMS.MergeConf
	}
	p.MaxDetections = c.NMS.MaxDetections
	p.MaxIterations = c.NMS.MaxIterations
	return p
}

// Build the model head description from this config. classes is normally the dataset vocabulary.
func (c *Config) ModelConfig(classes []string) *nn.ModelConfig {
	anchors := make([][2]float32, len(c.Anchors))
	for i, a := range c.Anchors {
		anchors[i] = [2]float32{a[0], a[1]}
	}
	return &nn.ModelConfig{
		Width:    c.Width,
		Height:   c.Height,
		Classes:  classes,
		Anchors:  anchors,
		ClampMax: c.ClampMax,
	}
}

// Returns nil if no normalization is configured
func (c *Config) StreamNormalization() *stream.Normalization {
	if c.Normalization == nil {
		return nil
	}
	return &stream.Normalization{
		Mean: c.Normalization.Mean,
		Std:  c.Normalization.Std,
	}
}

func (c *Config) DeltaEncoder() *delta.Encoder {
	return delta.NewEncoder(c.Delta.Vth, c.Delta.SpikeExp, c.Delta.NumBits)
}

func (c *Config) MonitorOptions() monitor.Options {
	return monitor.Options{
		IoUThreshold: c.IoUThreshold,
		ColorSeed:    c.Seed,
	}
}
