package latest_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/framealign/internal/latest"
	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ms = measurement.TicksPerMillisecond

var key = measurement.Key{ID: 7, Source: "PMU1"}

func TestUpdateIsLastArrivalWins(t *testing.T) {
	c := latest.New()

	c.Update(measurement.New(key, 100*ms, 1))
	c.Update(measurement.New(key, 50*ms, 2)) // older timestamp, later arrival

	e, ok := c.Entry(key)
	require.True(t, ok)
	assert.Equal(t, 2.0, e.Measurement.Value)
	assert.Equal(t, 1, c.Len())
}

func TestGetWindow(t *testing.T) {
	c := latest.New()
	c.Update(measurement.New(key, 1000*ms, 5))

	lag, lead := 500*time.Millisecond, 100*time.Millisecond

	_, ok := c.Get(key, 1000*ms, lag, lead)
	assert.True(t, ok)
	_, ok = c.Get(key, 1500*ms, lag, lead)
	assert.True(t, ok, "exactly lag old")
	_, ok = c.Get(key, 1501*ms, lag, lead)
	assert.False(t, ok, "too stale")
	_, ok = c.Get(key, 900*ms, lag, lead)
	assert.True(t, ok, "exactly lead ahead")
	_, ok = c.Get(key, 899*ms, lag, lead)
	assert.False(t, ok, "too far in the future")
	_, ok = c.Get(measurement.Key{ID: 8, Source: "PMU1"}, 1000*ms, lag, lead)
	assert.False(t, ok, "unknown key")
}

func TestReceivedAtUsesClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := realtime.NewManualClock(start)
	c := latest.New(latest.WithClock(clock), latest.WithShards(1))

	c.Update(measurement.New(key, 0, 1))
	e, ok := c.Entry(key)
	require.True(t, ok)
	assert.Equal(t, measurement.FromTime(start), e.ReceivedAt)
}

func TestClear(t *testing.T) {
	c := latest.New(latest.WithShards(4))
	for i := 0; i < 100; i++ {
		c.Update(measurement.New(measurement.Key{ID: uint64(i), Source: "S"}, 0, float64(i)))
	}
	assert.Equal(t, 100, c.Len())
	assert.Len(t, c.Keys(), 100)

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Keys())
}

func TestConcurrentUpdatesPerKeyLastWriterWins(t *testing.T) {
	c := latest.New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			k := measurement.Key{ID: uint64(w), Source: fmt.Sprintf("dev%d", w)}
			for i := 0; i < 500; i++ {
				// timestamps go backwards to show arrival order is what counts
				c.Update(measurement.New(k, measurement.Ticks(1000-i), float64(i)))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		e, ok := c.Entry(measurement.Key{ID: uint64(w), Source: fmt.Sprintf("dev%d", w)})
		require.True(t, ok)
		assert.Equal(t, 499.0, e.Measurement.Value)
	}
}
