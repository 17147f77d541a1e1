package generator

import (
	"time"

	"codeberg.org/mutker/framealign/internal/errors"
)

const (
	defaultDevices          = 4
	defaultSignalsPerDevice = 8
	defaultRate             = 30
	defaultLatency          = 40 * time.Millisecond
	defaultJitter           = 20 * time.Millisecond
	defaultSourcePrefix     = "SIM"
	defaultNominalValue     = 1.0
)

type Config struct {
	Enabled          bool
	Devices          int
	SignalsPerDevice int
	// Rate is the number of samples per second each device reports.
	Rate int
	// Latency is subtracted from every sample timestamp; Jitter adds a
	// uniformly distributed extra delay on top.
	Latency  time.Duration
	Jitter   time.Duration
	DropRate float64
	// SourcePrefix names devices as <prefix>1, <prefix>2, ...
	SourcePrefix string
	Seed         int64
}

func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		Devices:          defaultDevices,
		SignalsPerDevice: defaultSignalsPerDevice,
		Rate:             defaultRate,
		Latency:          defaultLatency,
		Jitter:           defaultJitter,
		SourcePrefix:     defaultSourcePrefix,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.Devices <= 0 || c.SignalsPerDevice <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "devices and signals per device must be positive")
	}
	if c.Rate <= 0 {
		return errFactory.WithData(ErrInvalidRate, c.Rate)
	}
	if c.Latency < 0 || c.Jitter < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "latency and jitter must not be negative")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return errFactory.WithData(ErrInvalidDropRate, c.DropRate)
	}
	if c.SourcePrefix == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "source prefix must not be empty")
	}

	return nil
}
