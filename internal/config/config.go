// Package config loads daemon settings from a TOML file, the environment and
// command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/framealign/internal/archive"
	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/generator"
	"codeberg.org/mutker/framealign/internal/pid"
	"codeberg.org/mutker/framealign/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "FRAMEALIGN"
	DefaultLogLevel   = "info"
	defaultConfigName = "framealign"
	defaultConfigType = "toml"
	defaultConfigDir  = "/etc"
)

type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	PIDFile      string             `mapstructure:"pid_file"`
	InputSources []string           `mapstructure:"input_sources"`
	Concentrator ConcentratorConfig `mapstructure:"concentrator"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Generator    GeneratorConfig    `mapstructure:"generator"`
}

type ConcentratorConfig struct {
	FramesPerSecond int           `mapstructure:"frames_per_second"`
	LagTime         time.Duration `mapstructure:"lag_time"`
	LeadTime        time.Duration `mapstructure:"lead_time"`
	UseLocalClock   bool          `mapstructure:"use_local_clock"`
	TrackLatest     bool          `mapstructure:"track_latest"`
	Downsampling    string        `mapstructure:"downsampling"`
	CacheLagTime    time.Duration `mapstructure:"cache_lag_time"`
	CacheLeadTime   time.Duration `mapstructure:"cache_lead_time"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	MaxGapFrames    int           `mapstructure:"max_gap_frames"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	DrainOnStop     bool          `mapstructure:"drain_on_stop"`
}

type ArchiveConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Database      string        `mapstructure:"database"`
	BackupDir     string        `mapstructure:"backup_dir"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

type GeneratorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Devices          int           `mapstructure:"devices"`
	SignalsPerDevice int           `mapstructure:"signals_per_device"`
	Rate             int           `mapstructure:"rate"`
	Latency          time.Duration `mapstructure:"latency"`
	Jitter           time.Duration `mapstructure:"jitter"`
	DropRate         float64       `mapstructure:"drop_rate"`
	SourcePrefix     string        `mapstructure:"source_prefix"`
	Seed             int64         `mapstructure:"seed"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":         "log_level",
	"pid-file":          "pid_file",
	"input-sources":     "input_sources",
	"frames-per-second": "concentrator.frames_per_second",
	"lag-time":          "concentrator.lag_time",
	"lead-time":         "concentrator.lead_time",
	"use-local-clock":   "concentrator.use_local_clock",
	"track-latest":      "concentrator.track_latest",
	"downsampling":      "concentrator.downsampling",
	"archive":           "archive.enabled",
	"archive-database":  "archive.database",
	"metrics":           "metrics.enabled",
	"metrics-listen":    "metrics.listen",
	"simulate":          "generator.enabled",
	"simulate-devices":  "generator.devices",
}

// RegisterFlags defines the daemon's command-line flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	cc := concentrator.DefaultConfig()
	ac := archive.DefaultConfig()
	mc := telemetry.DefaultConfig()
	gc := generator.DefaultConfig()

	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("pid-file", pid.DefaultPath(), "PID file path")
	fs.StringSlice("input-sources", nil, "Only accept measurements from these sources")
	fs.Int("frames-per-second", cc.FramesPerSecond, "Output frame rate")
	fs.Duration("lag-time", cc.LagTime, "How long a frame waits for data, e.g. 500ms")
	fs.Duration("lead-time", cc.LeadTime, "How far ahead of real time data is accepted, e.g. 100ms")
	fs.Bool("use-local-clock", cc.UseLocalClockAsRealTime, "Use the local clock as real time instead of the newest measurement")
	fs.Bool("track-latest", cc.TrackLatestMeasurements, "Fill missing values from the latest-value cache")
	fs.String("downsampling", cc.Downsampling.String(), "Downsampling method (nearest, filtered)")
	fs.Bool("archive", ac.Enabled, "Store published frames in sqlite")
	fs.String("archive-database", ac.DBPath, "Frame archive database path")
	fs.Bool("metrics", mc.Enabled, "Collect Prometheus metrics")
	fs.String("metrics-listen", mc.Listen, "Address of the /metrics endpoint")
	fs.Bool("simulate", gc.Enabled, "Feed the concentrator from simulated devices")
	fs.Int("simulate-devices", gc.Devices, "Number of simulated devices")
}

func setDefaults(v *viper.Viper) {
	cc := concentrator.DefaultConfig()
	ac := archive.DefaultConfig()
	mc := telemetry.DefaultConfig()
	gc := generator.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", pid.DefaultPath())
	v.SetDefault("input_sources", []string{})

	v.SetDefault("concentrator.frames_per_second", cc.FramesPerSecond)
	v.SetDefault("concentrator.lag_time", cc.LagTime)
	v.SetDefault("concentrator.lead_time", cc.LeadTime)
	v.SetDefault("concentrator.use_local_clock", cc.UseLocalClockAsRealTime)
	v.SetDefault("concentrator.track_latest", cc.TrackLatestMeasurements)
	v.SetDefault("concentrator.downsampling", cc.Downsampling.String())
	v.SetDefault("concentrator.cache_lag_time", cc.CacheLagTime)
	v.SetDefault("concentrator.cache_lead_time", cc.CacheLeadTime)
	v.SetDefault("concentrator.grace_period", cc.GracePeriod)
	v.SetDefault("concentrator.max_gap_frames", cc.MaxGapFrames)
	v.SetDefault("concentrator.tick_interval", cc.TickInterval)
	v.SetDefault("concentrator.drain_on_stop", cc.DrainOnStop)

	v.SetDefault("archive.enabled", ac.Enabled)
	v.SetDefault("archive.database", ac.DBPath)
	v.SetDefault("archive.backup_dir", ac.BackupDir)
	v.SetDefault("archive.batch_size", ac.BatchSize)
	v.SetDefault("archive.batch_interval", ac.BatchInterval)

	v.SetDefault("metrics.enabled", mc.Enabled)
	v.SetDefault("metrics.listen", mc.Listen)
	v.SetDefault("metrics.path", mc.Path)

	v.SetDefault("generator.enabled", gc.Enabled)
	v.SetDefault("generator.devices", gc.Devices)
	v.SetDefault("generator.signals_per_device", gc.SignalsPerDevice)
	v.SetDefault("generator.rate", gc.Rate)
	v.SetDefault("generator.latency", gc.Latency)
	v.SetDefault("generator.jitter", gc.Jitter)
	v.SetDefault("generator.drop_rate", gc.DropRate)
	v.SetDefault("generator.source_prefix", gc.SourcePrefix)
	v.SetDefault("generator.seed", gc.Seed)
}

// Load reads the configuration and validates it. The file is taken from
// WithConfigFile, then <PREFIX>_CONFIG, then /etc/framealign.toml if present.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	if o.flags != nil {
		for name, key := range flagKeys {
			f := o.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(ErrBindFlags, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, decodeHooks()); err != nil {
		return nil, errFactory.Wrap(ErrUnmarshalConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(defaultConfigType)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)
	v.AddConfigPath(defaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(ErrReadConfig, err)
		}
	}

	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(ErrInvalidLogLevel, c.LogLevel)
	}

	cc, err := c.ConcentratorConfig()
	if err != nil {
		return err
	}
	if err := cc.Validate(); err != nil {
		return err
	}
	if err := c.ArchiveConfig().Validate(); err != nil {
		return err
	}
	if err := c.TelemetryConfig().Validate(); err != nil {
		return err
	}

	return c.GeneratorConfig().Validate()
}

// ConcentratorConfig maps the concentrator section onto concentrator.Config.
func (c *Config) ConcentratorConfig() (concentrator.Config, error) {
	method, err := frame.ParseDownsampling(c.Concentrator.Downsampling)
	if err != nil {
		return concentrator.Config{}, err
	}

	return concentrator.Config{
		FramesPerSecond:         c.Concentrator.FramesPerSecond,
		LagTime:                 c.Concentrator.LagTime,
		LeadTime:                c.Concentrator.LeadTime,
		UseLocalClockAsRealTime: c.Concentrator.UseLocalClock,
		TrackLatestMeasurements: c.Concentrator.TrackLatest,
		Downsampling:            method,
		CacheLagTime:            c.Concentrator.CacheLagTime,
		CacheLeadTime:           c.Concentrator.CacheLeadTime,
		GracePeriod:             c.Concentrator.GracePeriod,
		MaxGapFrames:            c.Concentrator.MaxGapFrames,
		TickInterval:            c.Concentrator.TickInterval,
		DrainOnStop:             c.Concentrator.DrainOnStop,
	}, nil
}

func (c *Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Enabled:       c.Archive.Enabled,
		DBPath:        c.Archive.Database,
		BackupDir:     c.Archive.BackupDir,
		BatchSize:     c.Archive.BatchSize,
		BatchInterval: c.Archive.BatchInterval,
	}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = c.Metrics.Enabled
	cfg.Listen = c.Metrics.Listen
	cfg.Path = c.Metrics.Path

	return cfg
}

func (c *Config) GeneratorConfig() generator.Config {
	return generator.Config{
		Enabled:          c.Generator.Enabled,
		Devices:          c.Generator.Devices,
		SignalsPerDevice: c.Generator.SignalsPerDevice,
		Rate:             c.Generator.Rate,
		Latency:          c.Generator.Latency,
		Jitter:           c.Generator.Jitter,
		DropRate:         c.Generator.DropRate,
		SourcePrefix:     c.Generator.SourcePrefix,
		Seed:             c.Generator.Seed,
	}
}
