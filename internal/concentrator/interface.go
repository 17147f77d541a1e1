package concentrator

import (
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/measurement"
)

// Outcome classifies what happened to a measurement.
type Outcome uint8

const (
	Accepted Outcome = iota
	DiscardedLate
	DiscardedFuture
	DiscardedInvalid
	// DiscardedOnStop marks frame content dropped at shutdown when draining
	// is disabled. Assign never returns it.
	DiscardedOnStop
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case DiscardedLate:
		return "late"
	case DiscardedFuture:
		return "future"
	case DiscardedInvalid:
		return "invalid"
	case DiscardedOnStop:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener receives the concentrator's notifications.
//
// Every registered listener is called synchronously, in registration order,
// on the goroutine that caused the event: producers for discards and new
// measurements, the tick loop for frames and backlog. Errors and panics are
// logged and counted and never stop framing. Frames handed to FramePublished
// must not be modified.
type Listener interface {
	FramePublished(f *frame.Frame) error
	DiscardingMeasurements(reason Outcome, ms []measurement.Measurement)
	UnpublishedSamples(count int)
	NewMeasurements(ms []measurement.Measurement)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnFramePublished         func(f *frame.Frame) error
	OnDiscardingMeasurements func(reason Outcome, ms []measurement.Measurement)
	OnUnpublishedSamples     func(count int)
	OnNewMeasurements        func(ms []measurement.Measurement)
}

var _ Listener = ListenerFuncs{}

func (l ListenerFuncs) FramePublished(f *frame.Frame) error {
	if l.OnFramePublished == nil {
		return nil
	}
	return l.OnFramePublished(f)
}

func (l ListenerFuncs) DiscardingMeasurements(reason Outcome, ms []measurement.Measurement) {
	if l.OnDiscardingMeasurements != nil {
		l.OnDiscardingMeasurements(reason, ms)
	}
}

func (l ListenerFuncs) UnpublishedSamples(count int) {
	if l.OnUnpublishedSamples != nil {
		l.OnUnpublishedSamples(count)
	}
}

func (l ListenerFuncs) NewMeasurements(ms []measurement.Measurement) {
	if l.OnNewMeasurements != nil {
		l.OnNewMeasurements(ms)
	}
}
