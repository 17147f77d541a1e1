// Package realtime provides the concentrator's notion of "now": either the
// local clock or the newest timestamp seen in the data.
package realtime

import (
	"math"

	"codeberg.org/mutker/framealign/internal/measurement"
	"go.uber.org/atomic"
)

// Mode selects where real time comes from.
type Mode uint8

const (
	// ClockMode trusts the local clock, e.g. when sources are GPS locked.
	ClockMode Mode = iota
	// DataMode uses the newest measurement timestamp observed so far.
	DataMode
)

func (m Mode) String() string {
	if m == DataMode {
		return "data"
	}
	return "clock"
}

// Estimator tracks real time.
type Estimator interface {
	// Now returns the current real time estimate.
	Now() measurement.Ticks
	// Observe reports an accepted measurement timestamp.
	Observe(ts measurement.Ticks)
	// Seeded reports whether Now is meaningful. A clock estimator always is;
	// a data estimator is once it observed its first timestamp.
	Seeded() bool
	// Latest returns the newest observed timestamp, if any.
	Latest() (measurement.Ticks, bool)
	Mode() Mode
}

const unseeded = math.MinInt64

// latest is a monotonic maximum of observed timestamps.
type latest struct {
	ticks *atomic.Int64
}

func newLatest() latest {
	return latest{ticks: atomic.NewInt64(unseeded)}
}

func (l latest) observe(ts measurement.Ticks) {
	for {
		cur := l.ticks.Load()
		if int64(ts) <= cur {
			return
		}
		if l.ticks.CompareAndSwap(cur, int64(ts)) {
			return
		}
	}
}

func (l latest) load() (measurement.Ticks, bool) {
	v := l.ticks.Load()
	if v == unseeded {
		return 0, false
	}
	return measurement.Ticks(v), true
}

type clockEstimator struct {
	clock  Clock
	latest latest
}

type dataEstimator struct {
	latest latest
}

// New returns an estimator for mode. clock is only consulted in ClockMode and
// defaults to the system clock.
func New(mode Mode, clock Clock) Estimator {
	if mode == DataMode {
		return &dataEstimator{latest: newLatest()}
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &clockEstimator{clock: clock, latest: newLatest()}
}

func (e *clockEstimator) Now() measurement.Ticks {
	return measurement.FromTime(e.clock.Now())
}

func (e *clockEstimator) Observe(ts measurement.Ticks) {
	e.latest.observe(ts)
}

func (*clockEstimator) Seeded() bool {
	return true
}

func (e *clockEstimator) Latest() (measurement.Ticks, bool) {
	return e.latest.load()
}

func (*clockEstimator) Mode() Mode {
	return ClockMode
}

// Now returns the newest observed timestamp, or zero before the first one.
func (e *dataEstimator) Now() measurement.Ticks {
	ts, _ := e.latest.load()
	return ts
}

func (e *dataEstimator) Observe(ts measurement.Ticks) {
	e.latest.observe(ts)
}

func (e *dataEstimator) Seeded() bool {
	_, ok := e.latest.load()
	return ok
}

func (e *dataEstimator) Latest() (measurement.Ticks, bool) {
	return e.latest.load()
}

func (*dataEstimator) Mode() Mode {
	return DataMode
}
