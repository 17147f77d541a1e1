// Package generator simulates measurement devices for running the daemon
// without a protocol decoder.
package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/realtime"
	"golang.org/x/sync/errgroup"
)

// Queue receives generated batches. *ingest.Adapter implements it.
type Queue interface {
	QueueMeasurements(ms []measurement.Measurement) int
}

type Generator struct {
	cfg   Config
	queue Queue
	clock realtime.Clock
	log   logger.Logger
}

type Option func(*Generator)

func WithClock(clock realtime.Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

func New(cfg Config, queue Queue, opts ...Option) (*Generator, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if queue == nil {
		return nil, errFactory.New(ErrInvalidQueue)
	}

	g := &Generator{
		cfg:   cfg,
		queue: queue,
		clock: realtime.SystemClock(),
		log:   logger.New("generator"),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Sources lists the simulated device names.
func (g *Generator) Sources() []string {
	sources := make([]string, g.cfg.Devices)
	for d := range sources {
		sources[d] = g.source(d)
	}
	return sources
}

// Keys lists every signal the generator produces.
func (g *Generator) Keys() []measurement.Key {
	keys := make([]measurement.Key, 0, g.cfg.Devices*g.cfg.SignalsPerDevice)
	for d := 0; d < g.cfg.Devices; d++ {
		for s := 0; s < g.cfg.SignalsPerDevice; s++ {
			keys = append(keys, g.key(d, s))
		}
	}
	return keys
}

// Run starts one producer per device and blocks until ctx ends.
func (g *Generator) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(g.cfg.Rate)
	group, ctx := errgroup.WithContext(ctx)

	for d := 0; d < g.cfg.Devices; d++ {
		dev := newDevice(d, g.cfg.Seed)
		group.Go(func() error {
			g.runDevice(ctx, dev, interval)
			return nil
		})
	}

	g.log.Info().
		Int("devices", g.cfg.Devices).
		Int("signals_per_device", g.cfg.SignalsPerDevice).
		Int("rate", g.cfg.Rate).
		Msg("Generator started")

	err := group.Wait()
	g.log.Info().Msg("Generator stopped")

	return err
}

func (g *Generator) runDevice(ctx context.Context, dev *device, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if batch := g.sample(dev, g.clock.Now()); len(batch) > 0 {
			g.queue.QueueMeasurements(batch)
		}
	}
}

type device struct {
	index int
	rnd   *rand.Rand
	phase float64
}

func newDevice(index int, seed int64) *device {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed + int64(index)))

	return &device{
		index: index,
		rnd:   rnd,
		phase: rnd.Float64() * 2 * math.Pi,
	}
}

// Sample produces one batch for device d as of now. It is deterministic for
// a given seed.
func (g *Generator) Sample(d int, now time.Time) []measurement.Measurement {
	return g.sample(newDevice(d, g.cfg.Seed), now)
}

func (g *Generator) sample(dev *device, now time.Time) []measurement.Measurement {
	delay := g.cfg.Latency
	if g.cfg.Jitter > 0 {
		delay += time.Duration(dev.rnd.Int63n(int64(g.cfg.Jitter) + 1))
	}
	ts := measurement.FromTime(now.Add(-delay))
	seconds := float64(ts) / float64(measurement.TicksPerSecond)

	batch := make([]measurement.Measurement, 0, g.cfg.SignalsPerDevice)
	for s := 0; s < g.cfg.SignalsPerDevice; s++ {
		if g.cfg.DropRate > 0 && dev.rnd.Float64() < g.cfg.DropRate {
			continue
		}
		// slow oscillation around nominal with a little noise
		value := defaultNominalValue +
			0.05*math.Sin(2*math.Pi*0.1*seconds+dev.phase+float64(s)) +
			0.001*dev.rnd.NormFloat64()
		batch = append(batch, measurement.New(g.key(dev.index, s), ts, value))
	}

	return batch
}

func (g *Generator) source(d int) string {
	return fmt.Sprintf("%s%d", g.cfg.SourcePrefix, d+1)
}

func (g *Generator) key(d, s int) measurement.Key {
	return measurement.Key{ID: uint64(s + 1), Source: g.source(d)}
}
