package archive_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/framealign/internal/archive"
	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/frame"
	"codeberg.org/mutker/framealign/internal/logger"
	"codeberg.org/mutker/framealign/internal/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	published = time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)
	t0        = measurement.FromTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	keyA      = measurement.Key{ID: 1, Source: "PMU1"}
	keyB      = measurement.Key{ID: 2, Source: "PMU1"}
)

func testConfig(t *testing.T) archive.Config {
	t.Helper()

	cfg := archive.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "frames.db")
	cfg.BatchSize = 4
	cfg.BatchInterval = 10 * time.Millisecond

	return cfg
}

func publishedFrame(ts measurement.Ticks) *frame.Frame {
	f := frame.New(ts)
	f.Assign(measurement.Measurement{Key: keyA, Timestamp: ts, Value: 1.5, Quality: measurement.Suspect}, frame.Nearest)
	f.Substitute(measurement.New(keyB, ts-measurement.TicksPerSecond, 2.5))
	f.MarkPublished()
	return f
}

func TestValidate(t *testing.T) {
	cfg := archive.DefaultConfig()
	require.NoError(t, cfg.Validate(), "disabled archives need no path")

	cfg.Enabled = true
	cfg.DBPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, archive.ErrInvalidDBPath))

	cfg.DBPath = "frames.db"
	cfg.BatchSize = -1
	assert.True(t, errors.HasCode(cfg.Validate(), archive.ErrInvalidConfig))
}

func TestDisabledArchiveIsNoop(t *testing.T) {
	a, err := archive.NewService(archive.DefaultConfig())
	require.NoError(t, err)

	assert.False(t, a.Enabled())
	assert.NoError(t, a.FramePublished(publishedFrame(t0)))
	records, err := a.Query(context.Background(), t0, t0)
	assert.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, a.Close())
}

func TestNewRecord(t *testing.T) {
	rec := archive.NewRecord(publishedFrame(t0), published)

	assert.Equal(t, t0, rec.Timestamp)
	assert.Equal(t, 2, rec.MeasurementCount)
	assert.Equal(t, 1, rec.SubstitutedCount)
	require.Len(t, rec.Slots, 2)
	assert.Equal(t, archive.Slot{Key: keyA, Value: 1.5, Quality: measurement.Suspect}, rec.Slots[0])
	assert.Equal(t, archive.Slot{Key: keyB, Value: 2.5, Quality: measurement.Good, Substituted: true}, rec.Slots[1])
}

func TestArchiveStoresFrames(t *testing.T) {
	cfg := testConfig(t)
	a, err := archive.NewService(cfg, archive.WithNow(func() time.Time { return published }))
	require.NoError(t, err)
	require.True(t, a.Enabled())

	grid := frame.NewGrid(30)
	for n := int64(0); n < 6; n++ {
		require.NoError(t, a.FramePublished(publishedFrame(t0+grid.At(n))))
	}
	require.NoError(t, a.FramePublished(frame.New(t0+grid.At(6))))

	records, err := a.Query(context.Background(), t0, t0+measurement.TicksPerSecond)
	require.NoError(t, err)
	require.Len(t, records, 7)

	for i, rec := range records[:6] {
		assert.Equal(t, t0+grid.At(int64(i)), rec.Timestamp)
		assert.True(t, published.Equal(rec.PublishedAt))
		assert.Equal(t, 2, rec.MeasurementCount)
		assert.Equal(t, 1, rec.SubstitutedCount)
		require.Len(t, rec.Slots, 2)
		assert.True(t, rec.Slots[1].Substituted)
		assert.Equal(t, measurement.Suspect, rec.Slots[0].Quality)
	}
	assert.Zero(t, records[6].MeasurementCount)
	assert.Empty(t, records[6].Slots)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "closing twice is harmless")
}

func TestArchiveSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100
	cfg.BatchInterval = time.Hour

	a, err := archive.NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, a.FramePublished(publishedFrame(t0)))
	require.NoError(t, a.Close(), "close flushes the pending batch")

	a, err = archive.NewService(cfg)
	require.NoError(t, err)
	defer a.Close()

	records, err := a.Query(context.Background(), t0, t0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Slots, 2)
}

func TestRecordAfterCloseFails(t *testing.T) {
	cfg := testConfig(t)
	repo, err := archive.NewRepository(cfg, logger.New("test"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	err = repo.Record(archive.NewRecord(publishedFrame(t0), published))
	assert.True(t, errors.HasCode(err, archive.ErrClosed))
}

func TestOutdatedSchemaIsBackedUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (0, datetime('now')), (99, datetime('now'));
		CREATE TABLE frames (timestamp INTEGER);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := archive.NewRepository(cfg, logger.New("test"))
	require.NoError(t, err)
	defer repo.Close()

	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir, "frames_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	require.NoError(t, repo.Record(archive.NewRecord(publishedFrame(t0), published)))
	require.NoError(t, repo.Flush())
	records, err := repo.Query(context.Background(), t0, t0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSchemaVersion(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer db.Close()

	version, err := archive.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, archive.ValidateAndUpdateSchema(db, t.TempDir(), logger.New("test")))
	version, err = archive.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, archive.SchemaVersion, version)

	for _, table := range []string{"frames", "frame_index", "schema_versions"} {
		exists, err := archive.TableExists(db, table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}
