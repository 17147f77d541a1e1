package frame

import "codeberg.org/mutker/framealign/internal/measurement"

// Grid maps timestamps onto frame boundaries. Each second is split into
// FramesPerSecond slots starting at floor(i*TicksPerSecond/fps), so the
// boundaries repeat exactly every second even when the rate does not divide
// the tick resolution.
type Grid struct {
	fps int64
}

// NewGrid returns the grid for the given rate. The caller validates fps.
func NewGrid(fps int) Grid {
	return Grid{fps: int64(fps)}
}

// FramesPerSecond returns the rate of the grid.
func (g Grid) FramesPerSecond() int {
	return int(g.fps)
}

// Period returns the nominal distance between two frames.
func (g Grid) Period() measurement.Ticks {
	return measurement.TicksPerSecond / measurement.Ticks(g.fps)
}

// At returns the timestamp of the n-th frame since the epoch.
func (g Grid) At(n int64) measurement.Ticks {
	sec := floorDiv(n, g.fps)
	i := n - sec*g.fps
	tps := int64(measurement.TicksPerSecond)

	return measurement.Ticks(sec*tps + i*tps/g.fps)
}

// Index returns the index of the frame nearest to ts. Exact midpoints round
// towards the later frame.
func (g Grid) Index(ts measurement.Ticks) int64 {
	tps := int64(measurement.TicksPerSecond)
	sec := floorDiv(int64(ts), tps)
	offset := int64(ts) - sec*tps
	i := (2*offset*g.fps + tps) / (2 * tps)

	return sec*g.fps + i
}

// FloorIndex returns the index of the latest frame at or before ts.
func (g Grid) FloorIndex(ts measurement.Ticks) int64 {
	tps := int64(measurement.TicksPerSecond)
	sec := floorDiv(int64(ts), tps)
	offset := int64(ts) - sec*tps
	n := sec*g.fps + offset*g.fps/tps
	if g.At(n+1) <= ts {
		n++
	}

	return n
}

// Round returns the frame timestamp nearest to ts.
func (g Grid) Round(ts measurement.Ticks) measurement.Ticks {
	return g.At(g.Index(ts))
}

// Aligned reports whether ts is a frame boundary.
func (g Grid) Aligned(ts measurement.Ticks) bool {
	return g.Round(ts) == ts
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}
