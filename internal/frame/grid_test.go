package frame_test

import (
	"testing"

	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/measurement"
	"github.com/stretchr/testify/assert"
)

const ms = measurement.TicksPerMillisecond

func TestGridRoundThirtyFPS(t *testing.T) {
	g := frame.NewGrid(30)

	assert.Equal(t, measurement.Ticks(333333), g.Period())
	assert.Equal(t, measurement.Ticks(0), g.Round(0))
	assert.Equal(t, measurement.Ticks(0), g.Round(10*ms))
	assert.Equal(t, measurement.Ticks(333333), g.Round(20*ms))
	assert.Equal(t, measurement.Ticks(333333), g.Round(33*ms))
	assert.Equal(t, measurement.Ticks(666666), g.Round(66*ms))
	// the last slot of a second rolls over into the next second
	assert.Equal(t, measurement.TicksPerSecond, g.Round(measurement.TicksPerSecond-ms))
}

func TestGridNegativeTicks(t *testing.T) {
	g := frame.NewGrid(30)

	assert.Equal(t, measurement.Ticks(-333334), g.Round(-33*ms))
	assert.Equal(t, -measurement.TicksPerSecond, g.Round(-measurement.TicksPerSecond))
	assert.Equal(t, int64(-1), g.Index(-33*ms))
	assert.Equal(t, int64(-30), g.Index(-measurement.TicksPerSecond))
}

func TestGridBoundariesRepeatEverySecond(t *testing.T) {
	for _, fps := range []int{1, 10, 25, 30, 50, 60, 120} {
		g := frame.NewGrid(fps)
		for n := int64(-3 * int64(fps)); n < 3*int64(fps); n++ {
			ts := g.At(n)
			assert.True(t, g.Aligned(ts), "fps=%d n=%d", fps, n)
			assert.Equal(t, n, g.Index(ts), "fps=%d n=%d", fps, n)
			assert.Equal(t, n, g.FloorIndex(ts), "fps=%d n=%d", fps, n)
			assert.Equal(t, n, g.FloorIndex(g.At(n+1)-1), "fps=%d n=%d", fps, n)
			assert.Equal(t, g.At(n)+measurement.TicksPerSecond, g.At(n+int64(fps)))
		}
	}
}

func TestGridExactMultiplesWhenRateDividesTicks(t *testing.T) {
	g := frame.NewGrid(50)
	for n := int64(0); n < 200; n++ {
		assert.Zero(t, int64(g.At(n))%int64(g.Period()))
	}
}
