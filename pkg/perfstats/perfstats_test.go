package perfstats

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.AddSample(10 * time.Millisecond)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 8, a.Samples())
	require.Equal(t, 80*time.Millisecond, a.Total())
	require.Equal(t, 10*time.Millisecond, a.Average())

	a.Reset()
	require.EqualValues(t, 0, a.Samples())
}

func TestMovingAverage(t *testing.T) {
	var avg atomic.Int64
	UpdateMovingAverage(&avg, 1600)
	require.EqualValues(t, 1600, avg.Load())
	UpdateMovingAverage(&avg, 0)
	require.EqualValues(t, 1500, avg.Load())
}
