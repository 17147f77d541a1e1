package telemetry

import (
	"context"
	"net/http"

	"codeberg.org/mutker/framealign/internal/concentrator"
)

// Collector turns concentrator notifications into Prometheus metrics.
type Collector interface {
	concentrator.Listener
	Handler() http.Handler
	// Serve exposes Handler on the configured address until ctx ends.
	Serve(ctx context.Context) error
}

// StatsSource reports the concentrator counters that have no notification of
// their own.
type StatsSource interface {
	Stats() concentrator.Stats
}
