package concentrator

import (
	"context"
	"time"

	"codeberg.org/mutker/framealign/internal/errors"
)

// Start runs Tick on a timer until ctx ends or Stop is called.
func (c *Concentrator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return errors.New().New(ErrAlreadyRunning)
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	interval := c.cfg.tickInterval()
	go c.loop(ctx, interval, c.stopCh, c.doneCh)

	c.log.Info().Dur("tick_interval", interval).Msg("Concentrator started")

	return nil
}

func (c *Concentrator) loop(ctx context.Context, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.runMu.Lock()
			if c.doneCh == done {
				c.running = false
			}
			c.runMu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Stop ends the tick loop and drains the remaining frames. Frames are never
// lost silently: they are either published or reported as discarded. If ctx
// ends before the loop does, the pending frames are discarded and
// ErrStopTimeout is returned.
func (c *Concentrator) Stop(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		close(c.stopCh)
		done := c.doneCh
		c.running = false
		c.runMu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			n := c.discardFrames(c.takeAll())
			c.stats.pending.Store(0)
			c.log.Warn().Int("frames", n).Msg("Tick loop did not stop in time, discarded pending frames")
			return errors.New().Wrap(ErrStopTimeout, ctx.Err())
		}
	} else {
		c.runMu.Unlock()
	}

	c.Drain()
	c.log.Info().Msg("Concentrator stopped")

	return nil
}
