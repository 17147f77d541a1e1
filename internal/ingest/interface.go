package ingest

import (
	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/measurement"
)

// Sink accepts measurements and publishes frames when ticked.
// *concentrator.Concentrator is the production implementation.
type Sink interface {
	Assign(m measurement.Measurement) concentrator.Outcome
	Tick() int
}

// subscriber is implemented by sinks that broadcast their own notifications.
type subscriber interface {
	Subscribe(l concentrator.Listener)
}

var (
	_ Sink       = (*concentrator.Concentrator)(nil)
	_ subscriber = (*concentrator.Concentrator)(nil)
)
