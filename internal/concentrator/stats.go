package concentrator

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/framealign/internal/measurement"
	"go.uber.org/atomic"
)

type counters struct {
	processed        *atomic.Uint64
	accepted         *atomic.Uint64
	late             *atomic.Uint64
	future           *atomic.Uint64
	invalid          *atomic.Uint64
	downsampled      *atomic.Uint64
	framesPublished  *atomic.Uint64
	framesDiscarded  *atomic.Uint64
	emptyFrames      *atomic.Uint64
	substitutedSlots *atomic.Uint64
	skippedFrames    *atomic.Uint64
	listenerFailures *atomic.Uint64
	pending          *atomic.Int64
}

func newCounters() counters {
	return counters{
		processed:        atomic.NewUint64(0),
		accepted:         atomic.NewUint64(0),
		late:             atomic.NewUint64(0),
		future:           atomic.NewUint64(0),
		invalid:          atomic.NewUint64(0),
		downsampled:      atomic.NewUint64(0),
		framesPublished:  atomic.NewUint64(0),
		framesDiscarded:  atomic.NewUint64(0),
		emptyFrames:      atomic.NewUint64(0),
		substitutedSlots: atomic.NewUint64(0),
		skippedFrames:    atomic.NewUint64(0),
		listenerFailures: atomic.NewUint64(0),
		pending:          atomic.NewInt64(0),
	}
}

func (c counters) discarded(reason Outcome, n int) {
	switch reason {
	case DiscardedLate:
		c.late.Add(uint64(n))
	case DiscardedFuture:
		c.future.Add(uint64(n))
	case DiscardedInvalid:
		c.invalid.Add(uint64(n))
	}
}

// Stats is a point in time view of the concentrator's counters.
type Stats struct {
	ProcessedMeasurements uint64
	AcceptedMeasurements  uint64
	LateMeasurements      uint64
	FutureMeasurements    uint64
	InvalidMeasurements   uint64
	DownsampledCollisions uint64
	PublishedFrames       uint64
	DiscardedFrames       uint64
	EmptyFrames           uint64
	SubstitutedSlots      uint64
	SkippedFrames         uint64
	ListenerFailures      uint64
	// PendingFrames is the backlog reported by the last tick.
	PendingFrames int
	RealTime      measurement.Ticks
	LastPublished measurement.Ticks
	HasPublished  bool
}

// DiscardedMeasurements sums every discard reason.
func (s Stats) DiscardedMeasurements() uint64 {
	return s.LateMeasurements + s.FutureMeasurements + s.InvalidMeasurements
}

func (c *Concentrator) Stats() Stats {
	c.mu.Lock()
	last, has := c.lastPublished, c.hasPublished
	c.mu.Unlock()

	return Stats{
		ProcessedMeasurements: c.stats.processed.Load(),
		AcceptedMeasurements:  c.stats.accepted.Load(),
		LateMeasurements:      c.stats.late.Load(),
		FutureMeasurements:    c.stats.future.Load(),
		InvalidMeasurements:   c.stats.invalid.Load(),
		DownsampledCollisions: c.stats.downsampled.Load(),
		PublishedFrames:       c.stats.framesPublished.Load(),
		DiscardedFrames:       c.stats.framesDiscarded.Load(),
		EmptyFrames:           c.stats.emptyFrames.Load(),
		SubstitutedSlots:      c.stats.substitutedSlots.Load(),
		SkippedFrames:         c.stats.skippedFrames.Load(),
		ListenerFailures:      c.stats.listenerFailures.Load(),
		PendingFrames:         int(c.stats.pending.Load()),
		RealTime:              c.estimator.Now(),
		LastPublished:         last,
		HasPublished:          has,
	}
}

// Status renders the configuration and counters for operators.
func (c *Concentrator) Status() string {
	s := c.Stats()
	tracking := "Disabled"
	if c.cache != nil {
		tracking = fmt.Sprintf("Enabled (%d keys cached)", c.cache.Len())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "        Defined frame rate: %d frames/sec\n", c.cfg.FramesPerSecond)
	fmt.Fprintf(&b, "      Lag time / lead time: %s / %s\n", c.cfg.LagTime, c.cfg.LeadTime)
	fmt.Fprintf(&b, "                 Real time: %s (%s)\n", s.RealTime, c.estimator.Mode())
	fmt.Fprintf(&b, "      Measurement tracking: %s\n", tracking)
	fmt.Fprintf(&b, "              Downsampling: %s\n", c.cfg.Downsampling)
	fmt.Fprintf(&b, "    Processed measurements: %d\n", s.ProcessedMeasurements)
	fmt.Fprintf(&b, "    Discarded measurements: %d (late %d, future %d, invalid %d)\n",
		s.DiscardedMeasurements(), s.LateMeasurements, s.FutureMeasurements, s.InvalidMeasurements)
	fmt.Fprintf(&b, "          Published frames: %d (%d empty, %d substituted slots)\n",
		s.PublishedFrames, s.EmptyFrames, s.SubstitutedSlots)
	fmt.Fprintf(&b, "    Unpublished frames now: %d\n", s.PendingFrames)
	if s.HasPublished {
		fmt.Fprintf(&b, "      Last published frame: %s\n", s.LastPublished)
	}

	return b.String()
}
