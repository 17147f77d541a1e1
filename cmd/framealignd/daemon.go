package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/framealign/internal/archive"
	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/config"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/generator"
	"codeberg.org/mutker/framealign/internal/ingest"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/pid"
	"codeberg.org/mutker/framealign/internal/telemetry"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	stopTimeout    = 10 * time.Second
	statusInterval = time.Minute
)

type daemon struct {
	conc      *concentrator.Concentrator
	adapter   *ingest.Adapter
	collector telemetry.Collector
	archive   archive.Archive
	generator *generator.Generator
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		return err
	}
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) && appErr.Code() == errors.ErrAlreadyRunning {
			logger.ErrorWithCode(appErr).Str("pid_file", cfg.PIDFile).Msg("Another instance is running")
		}
		return err
	}
	defer func() {
		err = multierr.Append(err, pid.Remove(cfg.PIDFile))
	}()

	d, err := build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, d.close())
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := d.conc.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})
	group.Go(func() error {
		return d.collector.Serve(gctx)
	})
	if d.generator != nil {
		group.Go(func() error {
			return d.generator.Run(gctx)
		})
	}
	group.Go(func() error {
		d.reportStatus(gctx)
		return nil
	})

	logger.Info().
		Int("pid", os.Getpid()).
		Str("version", version).
		Msg("framealignd running")

	err = group.Wait()
	logger.Info().Msg("Stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err = multierr.Append(err, d.conc.Stop(stopCtx))

	logger.Info().Msg("Exiting...")

	return err
}

func build(cfg *config.Config) (*daemon, error) {
	cc, err := cfg.ConcentratorConfig()
	if err != nil {
		return nil, err
	}

	conc, err := concentrator.New(cc, concentrator.WithLogger(logger.New("concentrator")))
	if err != nil {
		return nil, err
	}

	collector, err := telemetry.NewService(cfg.TelemetryConfig(), telemetry.WithStatsSource(conc))
	if err != nil {
		return nil, err
	}

	store, err := archive.NewService(cfg.ArchiveConfig())
	if err != nil {
		return nil, err
	}

	adapter, err := ingest.NewAdapter(conc, ingest.WithInputSources(cfg.InputSources...))
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	adapter.Subscribe(collector)
	adapter.Subscribe(store)

	d := &daemon{
		conc:      conc,
		adapter:   adapter,
		collector: collector,
		archive:   store,
	}

	if gc := cfg.GeneratorConfig(); gc.Enabled {
		gen, err := generator.New(gc, adapter)
		if err != nil {
			return nil, multierr.Append(err, store.Close())
		}
		if cc.TrackLatestMeasurements {
			conc.SetExpectedKeys(gen.Keys())
		}
		d.generator = gen
	}

	return d, nil
}

func (d *daemon) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.conc.Stats()
			logger.Info().
				Uint64("processed", d.adapter.ProcessedMeasurements()).
				Uint64("accepted", s.AcceptedMeasurements).
				Uint64("discarded", s.DiscardedMeasurements()).
				Uint64("published_frames", s.PublishedFrames).
				Int("pending_frames", s.PendingFrames).
				Msg("Status")
			logger.Debug().Msg("\n" + d.adapter.Status() + d.conc.Status())
		}
	}
}

func (d *daemon) close() error {
	if err := d.archive.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close frame archive")
		return err
	}
	return nil
}
