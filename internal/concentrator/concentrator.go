// Package concentrator sorts asynchronous measurements into time-aligned
// frames and publishes them, in timestamp order, once their lag time has
// passed.
//
// Measurements are routed by Assign, which producers may call concurrently.
// Tick, driven by Start or called directly, expires frames and hands them to
// the registered listeners. A frame that holds data is ready once real time
// minus the lag time reaches its timestamp; a frame nobody sent data for
// waits one extra grace period. Frames publish strictly in order: a ready
// frame waits behind an older one that is not ready yet.
package concentrator

import (
	"sync"

	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/latest"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/realtime"
	"github.com/google/btree"
)

// pending indexes a frame by its timestamp. Lookups use entries without a
// frame.
type pending struct {
	ts measurement.Ticks
	f  *frame.Frame
}

func lessPending(a, b pending) bool {
	return a.ts < b.ts
}

type Concentrator struct {
	cfg       Config
	grid      frame.Grid
	lag       measurement.Ticks
	lead      measurement.Ticks
	grace     measurement.Ticks
	maxGap    int64
	estimator realtime.Estimator
	cache     *latest.Cache
	clock     realtime.Clock
	log       logger.Logger
	stats     counters

	// mu guards the pending set and the publication cursor.
	mu            sync.Mutex
	frames        *btree.BTreeG[pending]
	lastPublished measurement.Ticks
	hasPublished  bool

	// publishMu serializes Tick and Drain so frames leave in order.
	publishMu sync.Mutex

	keysMu   sync.RWMutex
	expected []measurement.Key

	listenersMu sync.RWMutex
	listeners   []Listener

	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

type Option func(*Concentrator)

// WithClock sets the clock behind real time and cache receipt stamps.
func WithClock(clock realtime.Clock) Option {
	return func(c *Concentrator) {
		c.clock = clock
	}
}

// WithEstimator overrides the estimator derived from the configuration.
func WithEstimator(e realtime.Estimator) Option {
	return func(c *Concentrator) {
		c.estimator = e
	}
}

// WithCache shares an existing latest-value cache. It is ignored when
// tracking is disabled.
func WithCache(cache *latest.Cache) Option {
	return func(c *Concentrator) {
		c.cache = cache
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Concentrator) {
		c.log = l
	}
}

// WithListener registers l before the concentrator starts.
func WithListener(l Listener) Option {
	return func(c *Concentrator) {
		c.listeners = append(c.listeners, l)
	}
}

// New validates cfg and builds a concentrator. Invalid configuration is the
// only error it returns.
func New(cfg Config, opts ...Option) (*Concentrator, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	c := &Concentrator{
		cfg:    cfg,
		grid:   frame.NewGrid(cfg.FramesPerSecond),
		lag:    measurement.FromDuration(cfg.LagTime),
		lead:   measurement.FromDuration(cfg.LeadTime),
		grace:  measurement.FromDuration(cfg.gracePeriod()),
		maxGap: int64(cfg.maxGapFrames()),
		frames: btree.NewG(32, lessPending),
		stats:  newCounters(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = realtime.SystemClock()
	}
	if c.log == nil {
		c.log = logger.New("concentrator")
	}
	if c.estimator == nil {
		mode := realtime.DataMode
		if cfg.UseLocalClockAsRealTime {
			mode = realtime.ClockMode
		}
		c.estimator = realtime.New(mode, c.clock)
	}
	if !cfg.TrackLatestMeasurements {
		c.cache = nil
	} else if c.cache == nil {
		c.cache = latest.New(latest.WithClock(c.clock))
	}
	if len(cfg.ExpectedKeys) > 0 {
		c.expected = append([]measurement.Key(nil), cfg.ExpectedKeys...)
	}

	c.log.Debug().
		Int("frames_per_second", cfg.FramesPerSecond).
		Dur("lag_time", cfg.LagTime).
		Dur("lead_time", cfg.LeadTime).
		Str("real_time", c.estimator.Mode().String()).
		Bool("track_latest", cfg.TrackLatestMeasurements).
		Str("downsampling", cfg.Downsampling.String()).
		Msg("Concentrator initialized")

	return c, nil
}

// Config returns the validated configuration.
func (c *Concentrator) Config() Config {
	return c.cfg
}

// Grid returns the frame grid measurements are rounded onto.
func (c *Concentrator) Grid() frame.Grid {
	return c.grid
}

// Cache returns the latest-value cache, nil when tracking is disabled.
func (c *Concentrator) Cache() *latest.Cache {
	return c.cache
}

// RealTime returns the current real time estimate.
func (c *Concentrator) RealTime() measurement.Ticks {
	return c.estimator.Now()
}

// Subscribe registers l for every later notification.
func (c *Concentrator) Subscribe(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SetExpectedKeys replaces the keys gap filling targets and clears the cache,
// since cached values may belong to sources no longer expected.
func (c *Concentrator) SetExpectedKeys(keys []measurement.Key) {
	c.keysMu.Lock()
	c.expected = append([]measurement.Key(nil), keys...)
	c.keysMu.Unlock()

	if c.cache != nil {
		c.cache.Clear()
	}
	c.log.Info().Int("keys", len(keys)).Msg("Expected measurement keys updated")
}

// ExpectedKeys returns a copy of the keys gap filling targets.
func (c *Concentrator) ExpectedKeys() []measurement.Key {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	return append([]measurement.Key(nil), c.expected...)
}

// Assign routes m to its frame. It never blocks on I/O and never fails for
// data quality reasons: late, premature and invalid measurements are
// reported to listeners and through the returned outcome.
func (c *Concentrator) Assign(m measurement.Measurement) Outcome {
	c.stats.processed.Inc()

	if !m.Valid() {
		c.log.Debug().Str("measurement", m.String()).Msg("Rejected invalid measurement")
		c.discard(DiscardedInvalid, m)
		return DiscardedInvalid
	}

	if c.cache != nil {
		c.cache.Update(m)
	}
	if !c.estimator.Seeded() {
		c.estimator.Observe(m.Timestamp)
	}

	dest := c.grid.Round(m.Timestamp)
	outcome := c.place(dest, c.estimator.Now(), m)
	if outcome != Accepted {
		c.discard(outcome, m)
		return outcome
	}

	c.estimator.Observe(m.Timestamp)
	c.stats.accepted.Inc()

	return Accepted
}

func (c *Concentrator) place(dest, now measurement.Ticks, m measurement.Measurement) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dest < now-c.lag || (c.hasPublished && dest <= c.lastPublished) {
		return DiscardedLate
	}
	if dest > now+c.lead {
		return DiscardedFuture
	}

	entry, ok := c.frames.Get(pending{ts: dest})
	if !ok {
		entry = pending{ts: dest, f: frame.New(dest)}
		if _, dup := c.frames.ReplaceOrInsert(entry); dup {
			panic(errors.New().WithData(ErrInvariantViolation, "duplicate pending frame at "+dest.String()))
		}
	}
	if entry.f.Assign(m, c.cfg.Downsampling) {
		c.stats.downsampled.Inc()
	}

	return Accepted
}

func (c *Concentrator) discard(reason Outcome, ms ...measurement.Measurement) {
	c.stats.discarded(reason, len(ms))
	for _, l := range c.snapshotListeners() {
		c.safeCall("discarding_measurements", func() error {
			l.DiscardingMeasurements(reason, ms)
			return nil
		})
	}
}

func (c *Concentrator) snapshotListeners() []Listener {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	return c.listeners
}

// safeCall isolates listener failures from the framing loop.
func (c *Concentrator) safeCall(operation string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.listenerFailures.Inc()
			err := errors.New().WithData(ErrListenerFailed, r)
			c.log.ErrorWithContext(err, "concentrator", operation).Msg("Listener panicked")
		}
	}()

	if err := fn(); err != nil {
		c.stats.listenerFailures.Inc()
		c.log.ErrorWithContext(errors.New().Wrap(ErrListenerFailed, err), "concentrator", operation).
			Msg("Listener failed")
	}
}
