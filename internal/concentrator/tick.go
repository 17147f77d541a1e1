package concentrator

import (
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/measurement"
)

// Tick publishes every frame that is ready, oldest first, and reports the
// remaining backlog to listeners. It returns the number of frames published.
// Calling Tick again without new data or time passing publishes nothing.
func (c *Concentrator) Tick() int {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	if !c.estimator.Seeded() {
		c.notifyBacklog(0)
		return 0
	}

	ready, backlog := c.expire(c.estimator.Now() - c.lag)
	for _, f := range ready {
		c.publish(f)
	}
	c.notifyBacklog(backlog)

	return len(ready)
}

// expire removes ready frames from the pending set in timestamp order.
func (c *Concentrator) expire(threshold measurement.Ticks) ([]*frame.Frame, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advanceCursor(threshold)

	var ready []*frame.Frame
	c.frames.Ascend(func(p pending) bool {
		if p.ts > threshold {
			return false
		}
		if p.f.Len() == 0 && p.ts > threshold-c.grace {
			return false
		}
		ready = append(ready, p.f)
		return true
	})

	for _, f := range ready {
		c.frames.Delete(pending{ts: f.Timestamp()})
		c.advancePublished(f.Timestamp())
	}

	return ready, c.frames.Len()
}

// advanceCursor creates the frames missing between the last published frame
// and threshold so the output keeps a fixed rate when data goes silent.
// Before the first publication the oldest pending frame starts the run.
// Gaps longer than the configured maximum are skipped.
func (c *Concentrator) advanceCursor(threshold measurement.Ticks) {
	var first int64
	if c.hasPublished {
		first = c.grid.Index(c.lastPublished) + 1
	} else {
		oldest, ok := c.frames.Min()
		if !ok {
			return
		}
		first = c.grid.Index(oldest.ts)
	}

	last := c.grid.FloorIndex(threshold)
	if last < first {
		return
	}
	if n := last - first + 1; n > c.maxGap {
		skipped := n - c.maxGap
		c.stats.skippedFrames.Add(uint64(skipped))
		c.log.Warn().
			Int64("skipped_frames", skipped).
			Str("from", c.grid.At(first).String()).
			Msg("Real time jumped ahead, skipping missing frames")
		first = last - c.maxGap + 1
	}

	for n := first; n <= last; n++ {
		ts := c.grid.At(n)
		if !c.frames.Has(pending{ts: ts}) {
			c.frames.ReplaceOrInsert(pending{ts: ts, f: frame.New(ts)})
		}
	}
}

func (c *Concentrator) advancePublished(ts measurement.Ticks) {
	if c.hasPublished && ts <= c.lastPublished {
		panic(errors.New().WithData(ErrInvariantViolation,
			"frame "+ts.String()+" is not after last published frame "+c.lastPublished.String()))
	}
	c.lastPublished = ts
	c.hasPublished = true
}

// publish fills f from the cache, seals it and hands it to listeners. f has
// already left the pending set, so no lock is held here.
func (c *Concentrator) publish(f *frame.Frame) {
	c.fill(f)

	if !f.MarkPublished() {
		panic(errors.New().WithData(ErrInvariantViolation, "frame "+f.Timestamp().String()+" published twice"))
	}

	c.stats.framesPublished.Inc()
	c.stats.substitutedSlots.Add(uint64(f.Substituted()))
	if f.Len() == 0 {
		c.stats.emptyFrames.Inc()
	}

	for _, l := range c.snapshotListeners() {
		c.safeCall("frame_published", func() error {
			return l.FramePublished(f)
		})
	}
}

func (c *Concentrator) fill(f *frame.Frame) {
	if c.cache == nil {
		return
	}

	keys := c.ExpectedKeys()
	if len(keys) == 0 {
		keys = c.cache.Keys()
	}
	for _, key := range keys {
		if f.Has(key) {
			continue
		}
		if m, ok := c.cache.Get(key, f.Timestamp(), c.cfg.CacheLagTime, c.cfg.CacheLeadTime); ok {
			f.Substitute(m)
		}
	}
}

func (c *Concentrator) notifyBacklog(count int) {
	c.stats.pending.Store(int64(count))
	for _, l := range c.snapshotListeners() {
		c.safeCall("unpublished_samples", func() error {
			l.UnpublishedSamples(count)
			return nil
		})
	}
}

// Drain empties the pending set regardless of readiness, publishing every
// frame in order, or discarding their content when DrainOnStop is off. It
// returns the number of frames drained.
func (c *Concentrator) Drain() int {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	frames := c.takeAll()
	if c.cfg.DrainOnStop {
		for _, f := range frames {
			c.publish(f)
		}
	} else {
		c.discardFrames(frames)
	}
	c.notifyBacklog(0)

	if len(frames) > 0 {
		c.log.Info().
			Int("frames", len(frames)).
			Bool("published", c.cfg.DrainOnStop).
			Msg("Drained pending frames")
	}

	return len(frames)
}

// discardFrames reports the content of frames that will never be published.
func (c *Concentrator) discardFrames(frames []*frame.Frame) int {
	for _, f := range frames {
		c.stats.framesDiscarded.Inc()
		if ms := f.Measurements(); len(ms) > 0 {
			c.discard(DiscardedOnStop, ms...)
		}
	}

	return len(frames)
}

func (c *Concentrator) takeAll() []*frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := make([]*frame.Frame, 0, c.frames.Len())
	for {
		p, ok := c.frames.DeleteMin()
		if !ok {
			break
		}
		frames = append(frames, p.f)
		c.advancePublished(p.ts)
	}

	return frames
}
