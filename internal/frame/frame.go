// Package frame holds the time-aligned bucket of measurements published by
// the concentrator, the frame grid and the downsampling rules.
package frame

import (
	"sort"

	"codeberg.org/mutker/framealign/internal/measurement"
)

type slot struct {
	m           measurement.Measurement
	sum         float64
	count       int
	substituted bool
}

// Frame collects every measurement whose timestamp rounds to Timestamp.
//
// A Frame is owned by the concentrator while pending and is not safe for
// concurrent use; once handed to a listener it is never modified again.
type Frame struct {
	timestamp      measurement.Ticks
	slots          map[measurement.Key]*slot
	sorted         int
	substituted    int
	publishedCount int
	published      bool
	lastSorted     measurement.Measurement
}

// New creates an empty frame. ts must already lie on the frame grid.
func New(ts measurement.Ticks) *Frame {
	return &Frame{
		timestamp: ts,
		slots:     make(map[measurement.Key]*slot),
	}
}

func (f *Frame) Timestamp() measurement.Ticks {
	return f.timestamp
}

// Len returns the number of filled slots, substituted ones included.
func (f *Frame) Len() int {
	return len(f.slots)
}

// Sorted returns how many measurements were sorted into the frame,
// collisions included.
func (f *Frame) Sorted() int {
	return f.sorted
}

func (f *Frame) Substituted() int {
	return f.substituted
}

func (f *Frame) Published() bool {
	return f.published
}

// PublishedCount returns the number of measurements the frame carried when
// it was published.
func (f *Frame) PublishedCount() int {
	return f.publishedCount
}

// LastSorted returns the most recent measurement sorted into the frame.
func (f *Frame) LastSorted() measurement.Measurement {
	return f.lastSorted
}

// Get returns the value held for key.
func (f *Frame) Get(key measurement.Key) (measurement.Measurement, bool) {
	s, ok := f.slots[key]
	if !ok {
		return measurement.Measurement{}, false
	}

	return s.m, true
}

// Has reports whether key has a slot in the frame.
func (f *Frame) Has(key measurement.Key) bool {
	_, ok := f.slots[key]
	return ok
}

// IsSubstituted reports whether the slot for key was filled from the
// latest-value cache rather than by a measurement sorted into the frame.
func (f *Frame) IsSubstituted(key measurement.Key) bool {
	s, ok := f.slots[key]
	return ok && s.substituted
}

// Measurements returns the frame content ordered by source then ID.
func (f *Frame) Measurements() []measurement.Measurement {
	out := make([]measurement.Measurement, 0, len(f.slots))
	for _, s := range f.slots {
		out = append(out, s.m)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ID < b.ID
	})

	return out
}

// Assign sorts m into the frame and reports whether it collided with a value
// already held for the same key. Collisions are resolved by method. A sorted
// measurement always overrides a substituted one. A published frame is
// sealed and ignores m.
func (f *Frame) Assign(m measurement.Measurement, method Downsampling) bool {
	if f.published {
		return false
	}

	f.sorted++
	f.lastSorted = m

	s, ok := f.slots[m.Key]
	if !ok {
		f.slots[m.Key] = &slot{m: m, sum: m.Value, count: 1}
		return false
	}

	if s.substituted {
		s.substituted = false
		f.substituted--
		*s = slot{m: m, sum: m.Value, count: 1}
		return true
	}

	switch method {
	case Filtered:
		s.sum += m.Value
		s.count++
		if closer(f.timestamp, s.m, m) {
			s.m.Timestamp = m.Timestamp
		}
		if m.Quality > s.m.Quality {
			s.m.Quality = m.Quality
		}
		s.m.Value = s.sum / float64(s.count)
	default:
		if closer(f.timestamp, s.m, m) {
			*s = slot{m: m, sum: m.Value, count: 1}
		}
	}

	return true
}

// Substitute fills the slot for m.Key if it is empty and reports whether it
// did. Substituted slots keep the cached measurement's own timestamp.
func (f *Frame) Substitute(m measurement.Measurement) bool {
	if f.published {
		return false
	}
	if _, ok := f.slots[m.Key]; ok {
		return false
	}
	f.slots[m.Key] = &slot{m: m, sum: m.Value, count: 1, substituted: true}
	f.substituted++

	return true
}

// MarkPublished seals the frame. It reports false if the frame had already
// been published.
func (f *Frame) MarkPublished() bool {
	if f.published {
		return false
	}
	f.published = true
	f.publishedCount = len(f.slots)

	return true
}
