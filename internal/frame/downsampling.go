package frame

import (
	"strings"

	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/measurement"
)

// Downsampling selects how two measurements for the same key inside one
// frame are reconciled.
type Downsampling uint8

const (
	// Nearest keeps the measurement closest to the frame timestamp.
	Nearest Downsampling = iota
	// Filtered averages every measurement sorted into the slot.
	Filtered
)

func (d Downsampling) String() string {
	switch d {
	case Nearest:
		return "nearest"
	case Filtered:
		return "filtered"
	default:
		return "unknown"
	}
}

// ParseDownsampling maps a configured name to a method.
func ParseDownsampling(s string) (Downsampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest", "closest":
		return Nearest, nil
	case "filtered", "average", "avg":
		return Filtered, nil
	default:
		return Nearest, errors.New().WithData(errors.ErrInvalidDownsampling, s)
	}
}

// closer decides whether candidate should replace current for a frame at
// dest. Distance wins first, then the earlier timestamp, then the better
// quality. A candidate identical in all three replaces the current value.
func closer(dest measurement.Ticks, current, candidate measurement.Measurement) bool {
	dc := distance(current.Timestamp, dest)
	dn := distance(candidate.Timestamp, dest)
	if dn != dc {
		return dn < dc
	}
	if candidate.Timestamp != current.Timestamp {
		return candidate.Timestamp < current.Timestamp
	}
	if candidate.Quality != current.Quality {
		return candidate.Quality < current.Quality
	}

	return true
}

func distance(a, b measurement.Ticks) measurement.Ticks {
	if a > b {
		return a - b
	}

	return b - a
}
