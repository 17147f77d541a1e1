package realtime_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockEstimatorFollowsClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := realtime.NewManualClock(start)
	est := realtime.New(realtime.ClockMode, clock)

	assert.True(t, est.Seeded())
	assert.Equal(t, measurement.FromTime(start), est.Now())

	// observed data never moves the clock
	est.Observe(measurement.FromTime(start.Add(time.Hour)))
	assert.Equal(t, measurement.FromTime(start), est.Now())

	clock.Advance(time.Second)
	assert.Equal(t, measurement.FromTime(start.Add(time.Second)), est.Now())

	latest, ok := est.Latest()
	require.True(t, ok)
	assert.Equal(t, measurement.FromTime(start.Add(time.Hour)), latest)
	assert.Equal(t, realtime.ClockMode, est.Mode())
}

func TestDataEstimatorNeverRegresses(t *testing.T) {
	est := realtime.New(realtime.DataMode, nil)
	assert.False(t, est.Seeded())
	assert.Equal(t, measurement.Ticks(0), est.Now())

	est.Observe(-500)
	assert.True(t, est.Seeded())
	assert.Equal(t, measurement.Ticks(-500), est.Now())

	est.Observe(1000)
	est.Observe(200)
	assert.Equal(t, measurement.Ticks(1000), est.Now())
	assert.Equal(t, "data", est.Mode().String())
}

func TestDataEstimatorConcurrentObserve(t *testing.T) {
	est := realtime.New(realtime.DataMode, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				est.Observe(measurement.Ticks(i*8 + w))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, measurement.Ticks(999*8+7), est.Now())
}
