package restore

import (
	"math/bits"
	"sync"
	"time"
)

// MaxSamples is the size of the estimator's sample ring
const MaxSamples = 50

type sample struct {
	at        time.Time
	completed uint64
}

// Reading is one consistent estimator result
type Reading struct {
	Target        uint64
	Completed     uint64
	BytesPerSec   uint64
	USecRemaining uint64
}

// Remaining returns USecRemaining as a duration
func (r Reading) Remaining() time.Duration {
	return time.Duration(r.USecRemaining) * time.Microsecond
}

// Estimator derives throughput and remaining time from progress samples
type Estimator struct {
	mu      sync.Mutex
	now     func() time.Time
	target  uint64
	samples []sample
	reading Reading
}

// NewEstimator creates an estimator for a transfer of target bytes
func NewEstimator(target uint64) *Estimator {
	return &Estimator{
		now:     time.Now,
		target:  target,
		samples: make([]sample, 0, MaxSamples),
		reading: Reading{Target: target},
	}
}

// AddSample records the completed byte count at the current time. A count
// lower than the last one is ignored.
func (e *Estimator) AddSample(completed uint64) {
	e.addSampleAt(e.now(), completed)
}

func (e *Estimator) addSampleAt(at time.Time, completed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := len(e.samples); n > 0 && completed < e.samples[n-1].completed {
		return
	}

	if len(e.samples) == MaxSamples {
		copy(e.samples, e.samples[1:])
		e.samples = e.samples[:MaxSamples-1]
	}
	e.samples = append(e.samples, sample{at: at, completed: completed})

	e.update(completed)
}

// update recomputes the reading; callers hold mu
func (e *Estimator) update(completed uint64) {
	var speedSum float64
	pairs := 0
	for i := 1; i < len(e.samples); i++ {
		dt := e.samples[i].at.Sub(e.samples[i-1].at)
		if dt <= 0 {
			continue
		}
		db := e.samples[i].completed - e.samples[i-1].completed
		speedSum += float64(db) / dt.Seconds()
		pairs++
	}

	var speed uint64
	if pairs > 0 {
		speed = uint64(speedSum / float64(pairs))
	}

	var remaining uint64
	if speed > 0 && completed < e.target {
		hi, lo := bits.Mul64(e.target-completed, uint64(time.Second/time.Microsecond))
		if hi < speed {
			remaining, _ = bits.Div64(hi, lo, speed)
		}
	}

	e.reading = Reading{
		Target:        e.target,
		Completed:     completed,
		BytesPerSec:   speed,
		USecRemaining: remaining,
	}
}

// Reading returns the latest values
func (e *Estimator) Reading() Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.reading
}
