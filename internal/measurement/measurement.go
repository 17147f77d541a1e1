// Package measurement defines the timestamped values flowing through the
// concentrator and the tick based time representation they carry.
package measurement

import (
	"fmt"
	"math"
)

// Quality flags how much a measurement can be trusted.
type Quality uint8

const (
	Good Quality = iota
	Suspect
	Bad
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "good"
	case Suspect:
		return "suspect"
	case Bad:
		return "bad"
	default:
		return fmt.Sprintf("quality(%d)", uint8(q))
	}
}

// Key identifies a measurement source: a logical signal ID plus the tag of
// the device or parser producing it.
type Key struct {
	ID     uint64
	Source string
}

// Valid reports whether the key is usable. A key without a source is malformed.
func (k Key) Valid() bool {
	return k.Source != ""
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Source, k.ID)
}

// Measurement is an immutable sample. The core never modifies one after it
// has been handed in.
type Measurement struct {
	Key       Key
	Timestamp Ticks
	Value     float64
	Quality   Quality
}

// New returns a good quality measurement.
func New(key Key, ts Ticks, value float64) Measurement {
	return Measurement{Key: key, Timestamp: ts, Value: value, Quality: Good}
}

// Valid reports whether the measurement can be framed at all.
func (m Measurement) Valid() bool {
	return m.Key.Valid() && !math.IsNaN(m.Value) && !math.IsInf(m.Value, 0)
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s@%s=%g(%s)", m.Key, m.Timestamp, m.Value, m.Quality)
}
