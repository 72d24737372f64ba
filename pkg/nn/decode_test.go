package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func testAnchors() []Anchor {
	return MakeAnchors([][2]float32{{1, 1}, {2, 3}})
}

func TestDecodeZeros(t *testing.T) {
	gridW, gridH, nClasses := 4, 3, 5
	anchors := testAnchors()
	P := 5 + nClasses
	raw := tensor.New(tensor.WithShape(gridW, gridH, len(anchors)*P), tensor.WithBacking(make([]float32, gridW*gridH*len(anchors)*P)))

	dec := NewBoxDecoder(anchors, DefaultClampMax)
	dets, err := dec.Decode(raw)
	require.NoError(t, err)
	require.Len(t, dets, len(anchors)*gridH*gridW)

	i := 0
	for a := range anchors {
		for cy := 0; cy < gridH; cy++ {
			for cx := 0; cx < gridW; cx++ {
				d := dets[i]
				i++
				require.Equal(t, float32(0.5), d.Confidence)
				require.Equal(t, (0.5+float32(cx))/float32(gridW), d.XCenter)
				require.Equal(t, (0.5+float32(cy))/float32(gridH), d.YCenter)
				require.Equal(t, anchors[a].Width/float32(gridW), d.Width)
				require.Equal(t, anchors[a].Height/float32(gridH), d.Height)
				require.Len(t, d.Classes, nClasses)
				for _, p := range d.Classes {
					require.Equal(t, float32(1)/float32(nClasses), p)
				}
			}
		}
	}
}

func TestDecodeOrderAndClamp(t *testing.T) {
	gridW, gridH := 2, 2
	anchors := MakeAnchors([][2]float32{{1, 1}})
	P := 5 + 2
	data := make([]float32, gridW*gridH*P)
	// Cell (x=1, y=0): huge tw, confident objectness, class 1 favoured
	cell := (1*gridH + 0) * P
	data[cell+2] = 100
	data[cell+3] = -100
	data[cell+4] = 10
	data[cell+6] = 3

	dets, err := NewBoxDecoder(anchors, 5).DecodeSlice(data, gridW, gridH, P)
	require.NoError(t, err)
	// anchor-major, then y, then x: row 1 is (x=1, y=0)
	d := dets[1]
	require.Equal(t, float32(0.75), d.XCenter)
	require.Equal(t, float32(0.25), d.YCenter)
	require.InDelta(t, math.Exp(5)/2, d.Width, 1e-3)
	require.InDelta(t, 0, d.Height, 1e-6)
	require.Greater(t, d.Confidence, float32(0.99))
	label, p := d.BestClass()
	require.Equal(t, 1, label)
	require.InDelta(t, 1/(1+math.Exp(-3)), p, 1e-5)
	require.False(t, math.IsInf(float64(d.Width), 0))
}

func TestDecodeBadShape(t *testing.T) {
	dec := NewBoxDecoder(testAnchors(), DefaultClampMax)
	_, err := dec.DecodeSlice(make([]float32, 2*2*7), 2, 2, 7)
	require.ErrorIs(t, err, ErrShape)

	raw := tensor.New(tensor.WithShape(2, 20), tensor.WithBacking(make([]float32, 40)))
	_, err = dec.Decode(raw)
	require.ErrorIs(t, err, ErrShape)
}
