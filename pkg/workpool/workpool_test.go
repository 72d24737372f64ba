package workpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMapPreservesOrder(t *testing.T) {
	inputs := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	// Earlier jobs sleep longer, so they finish last
	out, err := Map(New(4), inputs, func(i int, in int) (int, error) {
		time.Sleep(time.Duration(len(inputs)-i) * time.Millisecond)
		return in * in, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 4, 9, 16, 25, 36, 49, 64, 81}, out)
}

func TestMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	inputs := make([]int, 32)
	_, err := Map(New(3), inputs, func(i int, in int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(3))
}

var errBoom = errors.New("boom")

func TestMapPropagatesError(t *testing.T) {
	inputs := []string{"a", "b", "c", "d"}
	out, err := Map(nil, inputs, func(i int, in string) (string, error) {
		if in == "c" {
			return "", errBoom
		}
		return in, nil
	})
	require.ErrorIs(t, err, errBoom)
	require.Nil(t, out)

	err = Each(New(2), inputs, func(i int, in string) error {
		if i == 0 {
			return errBoom
		}
		return nil
	})
	require.ErrorIs(t, err, errBoom)
}

func TestMapEmpty(t *testing.T) {
	out, err := Map(New(2), []int{}, func(i int, in int) (int, error) {
		return 0, nil
	})
	require.NoError(t, err)
	require.Empty(t, out)
}
