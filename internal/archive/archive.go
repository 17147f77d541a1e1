// Package archive persists published frames to sqlite.
package archive

import (
	"context"
	"time"

	"codeberg.org/mutker/framealign/internal/concentrator"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
)

type service struct {
	repo Repository
	cfg  Config
	now  func() time.Time
	log  logger.Logger
}

// No-op implementation
type noopArchive struct{}

type Option func(*service)

// WithNow overrides the clock stamping publication times.
func WithNow(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// NewService returns an archive listener. A disabled configuration yields a
// no-op archive.
func NewService(cfg Config, opts ...Option) (Archive, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Frame archive disabled, using no-op archive")
		return &noopArchive{}, nil
	}

	log := logger.New("archive")
	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create frame repository")
		return nil, err
	}

	s := &service{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *service) FramePublished(f *frame.Frame) error {
	if f == nil {
		return errors.New().New(ErrInvalidFrame)
	}

	if err := s.repo.Record(NewRecord(f, s.now())); err != nil {
		return errors.New().Wrap(ErrRecordFailed, err)
	}

	return nil
}

func (s *service) DiscardingMeasurements(reason concentrator.Outcome, ms []measurement.Measurement) {
	s.log.Debug().
		Str("reason", reason.String()).
		Int("measurements", len(ms)).
		Msg("Measurements will not be archived")
}

func (*service) UnpublishedSamples(int) {}

func (*service) NewMeasurements([]measurement.Measurement) {}

func (s *service) Query(ctx context.Context, from, to measurement.Ticks) ([]FrameRecord, error) {
	select {
	case <-ctx.Done():
		return nil, errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Flush(); err != nil {
		return nil, err
	}
	return s.repo.Query(ctx, from, to)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*service) Enabled() bool {
	return true
}

// NewRecord copies a published frame into its stored form.
func NewRecord(f *frame.Frame, publishedAt time.Time) *FrameRecord {
	ms := f.Measurements()
	rec := &FrameRecord{
		Timestamp:        f.Timestamp(),
		PublishedAt:      publishedAt,
		MeasurementCount: len(ms),
		SubstitutedCount: f.Substituted(),
		Slots:            make([]Slot, 0, len(ms)),
	}
	for _, m := range ms {
		rec.Slots = append(rec.Slots, Slot{
			Key:         m.Key,
			Value:       m.Value,
			Quality:     m.Quality,
			Substituted: f.IsSubstituted(m.Key),
		})
	}

	return rec
}

// No-op implementation
func (*noopArchive) FramePublished(*frame.Frame) error { return nil }

func (*noopArchive) DiscardingMeasurements(concentrator.Outcome, []measurement.Measurement) {}

func (*noopArchive) UnpublishedSamples(int) {}

func (*noopArchive) NewMeasurements([]measurement.Measurement) {}

func (*noopArchive) Query(context.Context, measurement.Ticks, measurement.Ticks) ([]FrameRecord, error) {
	return nil, nil
}

func (*noopArchive) Close() error {
	return nil
}

func (*noopArchive) Enabled() bool {
	return false
}
