package ingest_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/ingest"
	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	assigned []measurement.Measurement
	ticks    int
}

func (s *fakeSink) Assign(m measurement.Measurement) concentrator.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned = append(s.assigned, m)
	if m.Value < 0 {
		return concentrator.DiscardedLate
	}
	return concentrator.Accepted
}

func (s *fakeSink) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	return 0
}

var t0 = measurement.FromTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

func batch(sources ...string) []measurement.Measurement {
	ms := make([]measurement.Measurement, 0, len(sources))
	for i, src := range sources {
		ms = append(ms, measurement.New(measurement.Key{ID: uint64(i), Source: src}, t0, float64(i)))
	}
	return ms
}

func TestNewAdapterRequiresSink(t *testing.T) {
	a, err := ingest.NewAdapter(nil)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, errors.HasCode(err, ingest.ErrInvalidSink))
}

func TestQueueMeasurementsForwardsEverything(t *testing.T) {
	sink := &fakeSink{}
	a, err := ingest.NewAdapter(sink)
	require.NoError(t, err)

	ms := batch("PMU1", "PMU2", "PMU3")
	ms[2].Value = -1

	assert.Equal(t, 2, a.QueueMeasurements(ms))
	assert.Equal(t, ms, sink.assigned)
	assert.Equal(t, uint64(3), a.ProcessedMeasurements())

	a.Tick()
	assert.Equal(t, 1, sink.ticks)
}

func TestInputSourceFilter(t *testing.T) {
	sink := &fakeSink{}
	a, err := ingest.NewAdapter(sink, ingest.WithInputSources("PMU2", " PMU1 "))
	require.NoError(t, err)
	assert.Equal(t, []string{"PMU1", "PMU2"}, a.InputSources())

	a.QueueMeasurements(batch("PMU1", "PMU2", "PMU3", "PMU3"))
	require.Len(t, sink.assigned, 2)
	assert.Equal(t, "PMU1", sink.assigned[0].Key.Source)
	assert.Equal(t, "PMU2", sink.assigned[1].Key.Source)
	assert.Equal(t, uint64(2), a.FilteredMeasurements())

	a.SetInputSources(nil)
	a.QueueMeasurements(batch("PMU3"))
	assert.Len(t, sink.assigned, 3)
	assert.Contains(t, a.Status(), "Input sources: all")
}

func TestNewMeasurementsNotification(t *testing.T) {
	sink := &fakeSink{}
	a, err := ingest.NewAdapter(sink, ingest.WithInputSources("PMU1"))
	require.NoError(t, err)

	var seen [][]measurement.Measurement
	a.Subscribe(concentrator.ListenerFuncs{
		OnNewMeasurements: func(ms []measurement.Measurement) {
			panic("first listener is broken")
		},
	})
	a.Subscribe(concentrator.ListenerFuncs{
		OnNewMeasurements: func(ms []measurement.Measurement) {
			seen = append(seen, ms)
		},
	})

	a.QueueMeasurements(batch("PMU1", "PMU2"))
	a.QueueMeasurements(batch("PMU2"))

	require.Len(t, seen, 1, "fully filtered batches are not announced")
	require.Len(t, seen[0], 1)
	assert.Equal(t, "PMU1", seen[0][0].Key.Source)
	assert.Len(t, sink.assigned, 1)
}

func TestAdapterOverConcentrator(t *testing.T) {
	clock := realtime.NewManualClock(t0.Time())
	c, err := concentrator.New(concentrator.DefaultConfig(), concentrator.WithClock(clock))
	require.NoError(t, err)

	a, err := ingest.NewAdapter(c)
	require.NoError(t, err)

	var (
		frames   []*frame.Frame
		discards []concentrator.Outcome
		news     int
	)
	a.Subscribe(concentrator.ListenerFuncs{
		OnFramePublished: func(f *frame.Frame) error {
			frames = append(frames, f)
			return nil
		},
		OnDiscardingMeasurements: func(reason concentrator.Outcome, _ []measurement.Measurement) {
			discards = append(discards, reason)
		},
		OnNewMeasurements: func(ms []measurement.Measurement) {
			news += len(ms)
		},
	})

	k := measurement.Key{ID: 1, Source: "PMU1"}
	accepted := a.QueueMeasurements([]measurement.Measurement{
		measurement.New(k, t0, 1),
		measurement.New(k, t0-measurement.TicksPerSecond, 2),
	})
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, news)
	assert.Equal(t, []concentrator.Outcome{concentrator.DiscardedLate}, discards)

	e, ok := c.Cache().Entry(k)
	require.True(t, ok)
	assert.Equal(t, 2.0, e.Measurement.Value, "the cache sees every valid arrival")

	clock.Advance(520 * time.Millisecond)
	assert.Equal(t, 1, a.Tick())
	require.Len(t, frames, 1)
	assert.Equal(t, t0, frames[0].Timestamp())
}
