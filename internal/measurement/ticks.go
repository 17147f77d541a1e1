package measurement

import "time"

// Ticks counts 100ns intervals since the Unix epoch, UTC.
type Ticks int64

const (
	TicksPerMillisecond Ticks = 10_000
	TicksPerSecond      Ticks = 1000 * TicksPerMillisecond
)

// FromTime converts a wall clock time to ticks.
func FromTime(t time.Time) Ticks {
	return Ticks(t.UnixNano() / 100)
}

// FromDuration converts a duration to ticks, truncating below 100ns.
func FromDuration(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// FromSeconds converts fractional seconds to ticks.
func FromSeconds(s float64) Ticks {
	return Ticks(s * float64(TicksPerSecond))
}

// Time returns the UTC time represented by t.
func (t Ticks) Time() time.Time {
	return time.Unix(0, int64(t)*100).UTC()
}

// Duration returns t as a duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * 100
}

func (t Ticks) String() string {
	return t.Time().Format("2006-01-02T15:04:05.0000000Z")
}
