package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func det(x, y, w, h, conf float32, classes ...float32) Detection {
	return Detection{XCenter: x, YCenter: y, Width: w, Height: h, Confidence: conf, Classes: classes}
}

func TestNMSIdenticalBoxes(t *testing.T) {
	dets := []Detection{
		det(0.5, 0.5, 0.2, 0.2, 0.7, 0.9, 0.1),
		det(0.5, 0.5, 0.2, 0.2, 0.9, 0.9, 0.1),
	}
	for _, merge := range []bool{false, true} {
		params := NewNMSParams()
		params.MergeConf = merge
		out := NMS(dets, params)
		require.Len(t, out, 1)
		require.Equal(t, 0, out[0].Label)
		if merge {
			require.InDelta(t, 0.81, out[0].Score, 1e-6)
		} else {
			require.Equal(t, float32(0.9), out[0].Score)
		}
	}
}

func TestNMSClassAware(t *testing.T) {
	// Same box, different classes
	dets := []Detection{
		det(0.5, 0.5, 0.2, 0.2, 0.9, 0.9, 0.1),
		det(0.5, 0.5, 0.2, 0.2, 0.8, 0.1, 0.9),
	}
	params := NewNMSParams()
	params.MergeConf = false
	require.Len(t, NMS(dets, params), 2)

	params.MergeConf = true
	out := NMS(dets, params)
	require.Len(t, out, 1)
	require.Equal(t, 0, out[0].Label)
}

func TestNMSThresholdAndOrder(t *testing.T) {
	dets := []Detection{
		det(0.2, 0.2, 0.1, 0.1, 0.6, 1),
		det(0.8, 0.8, 0.1, 0.1, 0.95, 1),
		det(0.5, 0.5, 0.1, 0.1, 0.4, 1),   // below ConfThreshold
		det(0.21, 0.2, 0.1, 0.1, 0.55, 1), // overlaps the first heavily
	}
	out := NMS(dets, nil)
	require.Len(t, out, 2)
	require.Equal(t, float32(0.95), out[0].Score)
	require.Equal(t, float32(0.6), out[1].Score)
	require.InDelta(t, 0.75, out[0].Box.XMin, 1e-6)
}

func TestNMSLimits(t *testing.T) {
	dets := []Detection{}
	for i := 0; i < 10; i++ {
		dets = append(dets, det(0.05+float32(i)*0.1, 0.5, 0.05, 0.05, 0.9-float32(i)*0.01, 1))
	}
	params := NewNMSParams()
	params.MaxDetections = 3
	require.Len(t, NMS(dets, params), 3)

	params = NewNMSParams()
	params.MaxIterations = 4
	require.Len(t, NMS(dets, params), 4)

	require.Empty(t, NMS(nil, nil))
}
