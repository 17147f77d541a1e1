package measurement_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/framealign/internal/measurement"
	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	key := measurement.Key{ID: 1, Source: "PMU1"}

	assert.True(t, measurement.New(key, 0, 59.98).Valid())
	assert.False(t, measurement.New(measurement.Key{ID: 1}, 0, 1).Valid(), "empty source")
	assert.False(t, measurement.New(key, 0, math.NaN()).Valid())
	assert.False(t, measurement.New(key, 0, math.Inf(1)).Valid())
	assert.False(t, measurement.New(key, 0, math.Inf(-1)).Valid())
}

func TestTicksConversions(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 123456700, time.UTC)
	ticks := measurement.FromTime(now)

	assert.Equal(t, now, ticks.Time())
	assert.Equal(t, measurement.TicksPerSecond, measurement.FromDuration(time.Second))
	assert.Equal(t, 500*measurement.TicksPerMillisecond, measurement.FromSeconds(0.5))
	assert.Equal(t, 33*time.Millisecond, (33 * measurement.TicksPerMillisecond).Duration())
	assert.Equal(t, "2024-03-01T12:00:00.1234567Z", ticks.String())
}

func TestQualityString(t *testing.T) {
	assert.Equal(t, "good", measurement.Good.String())
	assert.Equal(t, "suspect", measurement.Suspect.String())
	assert.Equal(t, "bad", measurement.Bad.String())
	assert.Equal(t, "quality(9)", measurement.Quality(9).String())
}
