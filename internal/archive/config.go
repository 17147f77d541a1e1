package archive

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/framealign/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/framealign/frames.db"

	defaultBatchSize     = 30
	defaultBatchInterval = time.Second
)

type Config struct {
	DBPath string
	// BackupDir receives a copy of the database before an outdated schema is
	// replaced. Empty means a "backups" directory next to DBPath.
	BackupDir     string
	BatchSize     int
	BatchInterval time.Duration
	Enabled       bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		BatchSize:     defaultBatchSize,
		BatchInterval: defaultBatchInterval,
		Enabled:       false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if the archive is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchInterval < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "batch size and interval must not be negative")
	}

	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
