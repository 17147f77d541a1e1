// Package telemetry exports framing activity as Prometheus metrics.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type service struct {
	cfg      Config
	registry *prometheus.Registry
	now      func() time.Time
	log      logger.Logger

	received         prometheus.Counter
	discarded        *prometheus.CounterVec
	framesPublished  prometheus.Counter
	emptyFrames      prometheus.Counter
	substitutedSlots prometheus.Counter
	frameSize        prometheus.Histogram
	publishDelay     prometheus.Histogram
	unpublished      prometheus.Gauge
}

// No-op implementation
type noopCollector struct{}

type options struct {
	registry *prometheus.Registry
	now      func() time.Time
	stats    StatsSource
}

type Option func(*options)

// WithStatsSource exports counters only the concentrator itself tracks,
// such as listener failures and the real time estimate.
func WithStatsSource(src StatsSource) Option {
	return func(o *options) {
		o.stats = src
	}
}

// WithRegistry replaces the dedicated registry, for example to share one
// with other exporters.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithNow overrides the clock used for publish delay and real time lag.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func NewService(cfg Config, opts ...Option) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s := &service{
		cfg:      cfg,
		registry: o.registry,
		now:      o.now,
		log:      logger.New("telemetry"),
	}
	s.register()
	if o.stats != nil {
		s.registerStats(o.stats)
	}

	s.log.Debug().
		Str("listen", cfg.Listen).
		Str("path", cfg.Path).
		Msg("Telemetry initialized")

	return s, nil
}

func (s *service) register() {
	factory := promauto.With(s.registry)
	ns := s.cfg.Namespace

	s.received = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "measurements_received_total",
		Help:      "Total number of measurements handed to the concentrator",
	})
	s.discarded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "measurements_discarded_total",
		Help:      "Total number of discarded measurements by reason",
	}, []string{"reason"})
	s.framesPublished = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "frames_published_total",
		Help:      "Total number of published frames",
	})
	s.emptyFrames = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "frames_empty_total",
		Help:      "Total number of frames published without any measurement",
	})
	s.substitutedSlots = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "substituted_slots_total",
		Help:      "Total number of frame slots filled from the latest-value cache",
	})
	s.frameSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "frame_measurements",
		Help:      "Number of measurements per published frame",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	s.publishDelay = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "frame_publish_delay_seconds",
		Help:      "Wall clock time between a frame's timestamp and its publication",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	s.unpublished = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "unpublished_frames",
		Help:      "Frames waiting for publication after the last tick",
	})
}

func (s *service) registerStats(src StatsSource) {
	factory := promauto.With(s.registry)
	ns := s.cfg.Namespace

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "listener_failures_total",
		Help:      "Total number of listener calls that failed or panicked",
	}, func() float64 {
		return float64(src.Stats().ListenerFailures)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "frames_skipped_total",
		Help:      "Total number of frames skipped after real time jumped ahead",
	}, func() float64 {
		return float64(src.Stats().SkippedFrames)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "real_time_lag_seconds",
		Help:      "Wall clock minus the concentrator's real time estimate",
	}, func() float64 {
		rt := src.Stats().RealTime
		if rt == 0 {
			return 0
		}
		return (measurement.FromTime(s.now()) - rt).Duration().Seconds()
	})
}

func (s *service) FramePublished(f *frame.Frame) error {
	s.framesPublished.Inc()
	s.substitutedSlots.Add(float64(f.Substituted()))
	s.frameSize.Observe(float64(f.Len()))
	if f.Len() == 0 {
		s.emptyFrames.Inc()
	}

	delay := measurement.FromTime(s.now()) - f.Timestamp()
	s.publishDelay.Observe(delay.Duration().Seconds())

	return nil
}

func (s *service) DiscardingMeasurements(reason concentrator.Outcome, ms []measurement.Measurement) {
	s.discarded.WithLabelValues(reason.String()).Add(float64(len(ms)))
}

func (s *service) UnpublishedSamples(count int) {
	s.unpublished.Set(float64(count))
}

func (s *service) NewMeasurements(ms []measurement.Measurement) {
	s.received.Add(float64(len(ms)))
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *service) Serve(ctx context.Context) error {
	if s.cfg.Listen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler())
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("listen", s.cfg.Listen).Str("path", s.cfg.Path).Msg("Serving metrics")

	select {
	case err := <-errCh:
		return errors.New().Wrap(ErrServeFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(ErrServeFailed, err)
	}

	return nil
}

// No-op implementation
func (*noopCollector) FramePublished(*frame.Frame) error { return nil }

func (*noopCollector) DiscardingMeasurements(concentrator.Outcome, []measurement.Measurement) {}

func (*noopCollector) UnpublishedSamples(int) {}

func (*noopCollector) NewMeasurements([]measurement.Measurement) {}

func (*noopCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (*noopCollector) Serve(context.Context) error {
	return nil
}
