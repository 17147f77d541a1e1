package archive

import (
	"context"
	"time"

	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/measurement"
)

// Archive stores published frames. It subscribes to a concentrator as a
// listener.
type Archive interface {
	concentrator.Listener
	Query(ctx context.Context, from, to measurement.Ticks) ([]FrameRecord, error)
	Close() error
	Enabled() bool
}

// Repository defines the interface for frame storage
type Repository interface {
	Record(rec *FrameRecord) error
	Query(ctx context.Context, from, to measurement.Ticks) ([]FrameRecord, error)
	Flush() error
	Close() error
}

// FrameRecord is one published frame as stored.
type FrameRecord struct {
	Timestamp        measurement.Ticks
	PublishedAt      time.Time
	MeasurementCount int
	SubstitutedCount int
	Slots            []Slot
}

type Slot struct {
	Key         measurement.Key
	Value       float64
	Quality     measurement.Quality
	Substituted bool
}
