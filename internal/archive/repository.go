package archive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*FrameRecord
	closed        bool
	closeOnce     sync.Once
	closeErr      error
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_interval", cfg.BatchInterval).
		Msg("Frame archive initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*FrameRecord, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing only matters when records are batched
	if cfg.BatchSize > 1 && cfg.BatchInterval > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchInterval)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(rec *FrameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}

	r.buffer = append(r.buffer, rec)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush()
}

func (r *repository) Query(ctx context.Context, from, to measurement.Ticks) ([]FrameRecord, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectFrameIndexSQL, int64(from), int64(to))
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	var records []FrameRecord
	index := make(map[measurement.Ticks]int)
	for rows.Next() {
		var (
			ts, publishedAt int64
			rec             FrameRecord
		)
		if err := rows.Scan(&ts, &rec.MeasurementCount, &rec.SubstitutedCount, &publishedAt); err != nil {
			rows.Close()
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		rec.Timestamp = measurement.Ticks(ts)
		rec.PublishedAt = measurement.Ticks(publishedAt).Time()
		index[rec.Timestamp] = len(records)
		records = append(records, rec)
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	rows, err = r.db.QueryContext(ctx, selectSlotsSQL, int64(from), int64(to))
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts          int64
			id          int64
			quality     int
			substituted int
			slot        Slot
		)
		if err := rows.Scan(&ts, &id, &slot.Key.Source, &slot.Value, &quality, &substituted); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		slot.Key.ID = uint64(id)
		slot.Quality = measurement.Quality(quality)
		slot.Substituted = substituted == 1

		if i, ok := index[measurement.Ticks(ts)]; ok {
			records[i].Slots = append(records[i].Slots, slot)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return records, nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		// Signal the flusher goroutine to stop and wait for its final flush
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
		<-r.flushDoneChan

		var err error
		r.mu.Lock()
		err = multierr.Append(err, r.flush())
		r.mu.Unlock()

		// Checkpoint WAL and cleanup on close
		if _, cerr := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); cerr != nil {
			err = multierr.Append(err, errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: cerr.Error(),
			}))
		}
		if cerr := r.db.Close(); cerr != nil {
			err = multierr.Append(err, errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: cerr.Error(),
			}))
		}

		r.closeErr = err
		if err == nil {
			r.logger.Info().Msg("Frame archive closed gracefully")
		}
	})

	return r.closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. The caller holds r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := r.insert(tx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to insert frames")
		if rerr := tx.Rollback(); rerr != nil {
			r.logger.Error().Err(rerr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("frames", len(r.buffer)).Msg("Flushed frames to database")
	r.buffer = r.buffer[:0]

	return nil
}

func (r *repository) insert(tx *sql.Tx) error {
	indexStmt, err := tx.Prepare(insertFrameIndexSQL)
	if err != nil {
		return err
	}
	defer indexStmt.Close()

	slotStmt, err := tx.Prepare(insertSlotSQL)
	if err != nil {
		return err
	}
	defer slotStmt.Close()

	for _, rec := range r.buffer {
		if _, err := indexStmt.Exec(
			int64(rec.Timestamp),
			int64(rec.MeasurementCount),
			int64(rec.SubstitutedCount),
			int64(measurement.FromTime(rec.PublishedAt)),
		); err != nil {
			return err
		}

		for _, s := range rec.Slots {
			if _, err := slotStmt.Exec(
				int64(rec.Timestamp),
				int64(s.Key.ID),
				s.Key.Source,
				s.Value,
				int64(s.Quality),
				int64(boolToInt(s.Substituted)),
			); err != nil {
				return err
			}
		}
	}

	return nil
}
