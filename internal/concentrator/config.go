package concentrator

import (
	"time"

	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/measurement"
)

const (
	defaultFramesPerSecond = 30
	defaultLagTime         = 500 * time.Millisecond
	defaultLeadTime        = 100 * time.Millisecond
	defaultCacheLagTime    = 10 * time.Second
	defaultCacheLeadTime   = 5 * time.Second
)

type Config struct {
	FramesPerSecond int
	// LagTime is how long a frame waits for data after its timestamp passed.
	LagTime time.Duration
	// LeadTime is how far ahead of real time a measurement is still accepted.
	LeadTime time.Duration
	// UseLocalClockAsRealTime selects the local clock over the newest
	// measurement timestamp as real time.
	UseLocalClockAsRealTime bool
	// TrackLatestMeasurements enables the latest-value cache and gap filling.
	TrackLatestMeasurements bool
	Downsampling            frame.Downsampling
	// CacheLagTime and CacheLeadTime bound how stale, or how far ahead, a
	// cached value may be to fill a frame.
	CacheLagTime  time.Duration
	CacheLeadTime time.Duration
	// GracePeriod is the extra wait for frames nobody sent data for.
	// Zero means one frame interval.
	GracePeriod time.Duration
	// MaxGapFrames caps how many missing frames the publication cursor
	// creates in one tick. Zero derives it from the rate and lag time.
	MaxGapFrames int
	// TickInterval drives Start. Zero means one frame interval.
	TickInterval time.Duration
	// DrainOnStop publishes remaining frames on Stop instead of discarding them.
	DrainOnStop bool
	// ExpectedKeys are the keys gap filling targets. Empty means every key
	// present in the cache.
	ExpectedKeys []measurement.Key
}

func DefaultConfig() Config {
	return Config{
		FramesPerSecond:         defaultFramesPerSecond,
		LagTime:                 defaultLagTime,
		LeadTime:                defaultLeadTime,
		UseLocalClockAsRealTime: true,
		TrackLatestMeasurements: true,
		Downsampling:            frame.Nearest,
		CacheLagTime:            defaultCacheLagTime,
		CacheLeadTime:           defaultCacheLeadTime,
		DrainOnStop:             true,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.FramesPerSecond <= 0 || int64(c.FramesPerSecond) > int64(measurement.TicksPerSecond) {
		return errFactory.WithData(ErrInvalidFrameRate, c.FramesPerSecond)
	}
	if c.LagTime <= 0 {
		return errFactory.WithData(ErrInvalidLagTime, c.LagTime)
	}
	if c.LeadTime < 0 {
		return errFactory.WithData(ErrInvalidLeadTime, c.LeadTime)
	}
	// real time derived from data only advances through data that is ahead of it
	if !c.UseLocalClockAsRealTime && c.LeadTime == 0 {
		return errFactory.WithMessage(ErrInvalidLeadTime, "lead time must be positive when real time is derived from data")
	}
	if c.Downsampling != frame.Nearest && c.Downsampling != frame.Filtered {
		return errFactory.WithData(ErrInvalidDownsampling, c.Downsampling)
	}
	if c.CacheLagTime < 0 {
		return errFactory.WithData(ErrInvalidLagTime, c.CacheLagTime)
	}
	if c.CacheLeadTime < 0 {
		return errFactory.WithData(ErrInvalidLeadTime, c.CacheLeadTime)
	}
	if c.GracePeriod < 0 || c.TickInterval < 0 || c.MaxGapFrames < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "grace period, tick interval and max gap frames must not be negative")
	}

	return nil
}

func (c Config) period() time.Duration {
	return time.Second / time.Duration(c.FramesPerSecond)
}

func (c Config) gracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return c.period()
}

func (c Config) tickInterval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return c.period()
}

func (c Config) maxGapFrames() int {
	if c.MaxGapFrames > 0 {
		return c.MaxGapFrames
	}
	seconds := int((c.LagTime + time.Second - 1) / time.Second)

	return 2 * c.FramesPerSecond * seconds
}
