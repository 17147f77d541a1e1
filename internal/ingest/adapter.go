// Package ingest is the boundary producers hand measurement batches to.
package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
	"go.uber.org/atomic"
)

// Adapter filters incoming batches by source, announces them as new
// measurements and routes every survivor to the sink. Cache updates happen
// in the sink's Assign when tracking is enabled.
type Adapter struct {
	sink Sink
	log  logger.Logger

	sourcesMu sync.RWMutex
	sources   map[string]struct{}

	listenersMu sync.RWMutex
	listeners   []concentrator.Listener

	processed        *atomic.Uint64
	filtered         *atomic.Uint64
	listenerFailures *atomic.Uint64
}

type Option func(*Adapter)

// WithInputSources limits the adapter to measurements from the named sources.
func WithInputSources(sources ...string) Option {
	return func(a *Adapter) {
		a.sources = sourceSet(sources)
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

func NewAdapter(sink Sink, opts ...Option) (*Adapter, error) {
	if sink == nil {
		return nil, errors.New().New(ErrInvalidSink)
	}

	a := &Adapter{
		sink:             sink,
		processed:        atomic.NewUint64(0),
		filtered:         atomic.NewUint64(0),
		listenerFailures: atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.New("ingest")
	}

	return a, nil
}

// Subscribe registers l for new measurement notifications and, when the sink
// broadcasts its own events, for frames, discards and backlog as well.
func (a *Adapter) Subscribe(l concentrator.Listener) {
	a.listenersMu.Lock()
	a.listeners = append(a.listeners, l)
	a.listenersMu.Unlock()

	if s, ok := a.sink.(subscriber); ok {
		s.Subscribe(l)
	}
}

// SetInputSources replaces the source filter. An empty list accepts every
// source.
func (a *Adapter) SetInputSources(sources []string) {
	a.sourcesMu.Lock()
	a.sources = sourceSet(sources)
	a.sourcesMu.Unlock()

	a.log.Info().Strs("sources", sources).Msg("Input sources updated")
}

// InputSources returns the configured filter in sorted order.
func (a *Adapter) InputSources() []string {
	a.sourcesMu.RLock()
	defer a.sourcesMu.RUnlock()

	sources := make([]string, 0, len(a.sources))
	for s := range a.sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	return sources
}

// QueueMeasurements processes one batch from a producer and returns how many
// measurements the sink accepted. It is safe for concurrent use.
func (a *Adapter) QueueMeasurements(ms []measurement.Measurement) int {
	batch := a.filter(ms)
	if len(batch) == 0 {
		return 0
	}

	a.notifyNew(batch)

	accepted := 0
	for _, m := range batch {
		if a.sink.Assign(m) == concentrator.Accepted {
			accepted++
		}
	}
	a.processed.Add(uint64(len(batch)))

	return accepted
}

// Tick forwards to the sink.
func (a *Adapter) Tick() int {
	return a.sink.Tick()
}

// ProcessedMeasurements counts measurements that passed the source filter.
func (a *Adapter) ProcessedMeasurements() uint64 {
	return a.processed.Load()
}

// FilteredMeasurements counts measurements dropped by the source filter.
func (a *Adapter) FilteredMeasurements() uint64 {
	return a.filtered.Load()
}

func (a *Adapter) Status() string {
	var b strings.Builder

	sources := "all"
	if s := a.InputSources(); len(s) > 0 {
		sources = strings.Join(s, ", ")
	}
	fmt.Fprintf(&b, "             Input sources: %s\n", sources)
	fmt.Fprintf(&b, "    Processed measurements: %d\n", a.ProcessedMeasurements())
	fmt.Fprintf(&b, "     Filtered measurements: %d\n", a.FilteredMeasurements())

	return b.String()
}

func (a *Adapter) filter(ms []measurement.Measurement) []measurement.Measurement {
	a.sourcesMu.RLock()
	defer a.sourcesMu.RUnlock()

	if len(a.sources) == 0 {
		return ms
	}

	batch := make([]measurement.Measurement, 0, len(ms))
	for _, m := range ms {
		if _, ok := a.sources[m.Key.Source]; ok {
			batch = append(batch, m)
		}
	}
	if dropped := len(ms) - len(batch); dropped > 0 {
		a.filtered.Add(uint64(dropped))
	}

	return batch
}

func (a *Adapter) notifyNew(batch []measurement.Measurement) {
	a.listenersMu.RLock()
	listeners := a.listeners
	a.listenersMu.RUnlock()

	for _, l := range listeners {
		a.safeNotify(l, batch)
	}
}

func (a *Adapter) safeNotify(l concentrator.Listener, batch []measurement.Measurement) {
	defer func() {
		if r := recover(); r != nil {
			a.listenerFailures.Inc()
			err := errors.New().WithData(ErrListenerFailed, r)
			a.log.ErrorWithContext(err, "ingest", "new_measurements").Msg("Listener panicked")
		}
	}()

	l.NewMeasurements(batch)
}

func sourceSet(sources []string) map[string]struct{} {
	if len(sources) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}

	return set
}
