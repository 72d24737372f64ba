package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/bddseq/pkg/delta"
	"github.com/cyclopcam/bddseq/pkg/nn"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestLoadYAML(t *testing.T) {
	filename := writeFile(t, "bdd.yaml", `
root: /data/bdd100k
train: true
seqLen: 8
augmentProb: 0.2
jitter:
  brightness: 0.1
normalization:
  mean: [0.5, 0.5, 0.5]
  std: [0.25, 0.25, 0.25]
anchors:
  - [0.28, 0.22]
  - [0.38, 0.48]
nms:
  mergeConf: false
  maxDetections: 10
delta:
  vth: 4
  spikeExp: 2
  numBits: 8
`)
	c, err := Load(filename)
	require.NoError(t, err)
	require.Equal(t, "/data/bdd100k", c.Root)
	require.Equal(t, "track", c.Dataset)
	require.Equal(t, 448, c.Width)
	require.Equal(t, 8, c.SeqLen)

	opts := c.DatasetOptions()
	require.True(t, opts.Train)
	require.Equal(t, 8, opts.SeqLen)
	require.Equal(t, 0.2, opts.AugmentProb)
	require.Equal(t, 0.1, opts.Jitter.Brightness)

	p := c.NMSParams()
	require.False(t, p.MergeConf)
	require.Equal(t, 10, p.MaxDetections)
	require.Equal(t, nn.DefaultMaxIterations, p.MaxIterations)
	require.Equal(t, float32(nn.DefaultConfThreshold), p.ConfThreshold)

	m := c.ModelConfig([]string{"car"})
	require.Equal(t, [][2]float32{{0.28, 0.22}, {0.38, 0.48}}, m.Anchors)
	require.Len(t, m.Decoder().Anchors, 2)

	norm := c.StreamNormalization()
	require.Equal(t, []float32{0.25, 0.25, 0.25}, norm.Std)

	enc := c.DeltaEncoder()
	require.Equal(t, int32(16), enc.State.Vth)
	require.True(t, enc.State.Clipped())

	require.Equal(t, float32(0.5), c.MonitorOptions().IoUThreshold)
}

func TestLoadJSON(t *testing.T) {
	filename := writeFile(t, "bdd.json", `{"root": "/data", "width": 320, "height": 256}`)
	c, err := Load(filename)
	require.NoError(t, err)
	require.Equal(t, 320, c.Width)
	require.Equal(t, 256, c.Height)
	require.Nil(t, c.StreamNormalization())
	require.True(t, c.NMSParams().MergeConf)
	require.False(t, c.DeltaEncoder().State.Clipped())

	_, err = Load(writeFile(t, "broken.json", `{"root": `))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	require.NoError(t, NewConfig("/data").Validate())

	bad := []func(c *Config){
		func(c *Config) { c.Root = "" },
		func(c *Config) { c.SeqLen = -1 },
		func(c *Config) { c.AugmentProb = 1.5 },
		func(c *Config) { c.Jitter.Contrast = -0.1 },
		func(c *Config) { c.Normalization = &Normalization{Mean: []float32{1, 2}, Std: []float32{1}} },
		func(c *Config) { c.Normalization = &Normalization{Mean: []float32{1}, Std: []float32{0}} },
		func(c *Config) { c.Anchors = [][]float32{{0.1}} },
		func(c *Config) { c.Anchors = [][]float32{{0.1, -1}} },
		func(c *Config) { c.NMS.NmsThreshold = 2 },
		func(c *Config) { c.Delta.NumBits = 40 },
		func(c *Config) { c.Delta.Vth = -1 },
		func(c *Config) {
			c.Delta.NumBits = 24
			c.Delta.SpikeExp = 8
		},
		func(c *Config) { c.IoUThreshold = -1 },
	}
	for i, mod := range bad {
		c := NewConfig("/data")
		mod(c)
		require.ErrorIs(t, c.Validate(), ErrInvalid, "case %v", i)
	}

	_, err := Load(writeFile(t, "bad.yaml", "root: /data\naugmentProb: 3\n"))
	require.ErrorIs(t, err, ErrInvalid)

	// Overflowing encoder parameters are rejected, instead of silently disabling clipping
	_, err = Load(writeFile(t, "overflow.yaml", "root: /data\ndelta:\n  numBits: 28\n  spikeExp: 4\n"))
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, delta.ErrParams)
}
