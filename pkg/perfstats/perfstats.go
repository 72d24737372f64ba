package perfstats

import (
	"sync/atomic"
	"time"
)

// Accumulate samples of how long something took.
// Safe to update from many goroutines at once, which is how the frame loaders use it.
type TimeAccumulator struct {
	samples atomic.Int64
	total   atomic.Int64 // nanoseconds
}

func (a *TimeAccumulator) Reset() {
	a.samples.Store(0)
	a.total.Store(0)
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.samples.Add(1)
	a.total.Add(v.Nanoseconds())
}

// Record the time elapsed since start
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Samples() int64 {
	return a.samples.Load()
}

func (a *TimeAccumulator) Total() time.Duration {
	return time.Duration(a.total.Load())
}

func (a *TimeAccumulator) Average() time.Duration {
	n := a.samples.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(a.total.Load() / n)
}

// Exponential moving average of a nanosecond timing, updated without locks.
// The first sample seeds the average.
func UpdateMovingAverage(avg *atomic.Int64, sample int64) {
	for {
		old := avg.Load()
		next := sample
		if old != 0 {
			next = (old*15 + sample) / 16
		}
		if avg.CompareAndSwap(old, next) {
			return
		}
	}
}
