package archive

import (
	"database/sql"

	"codeberg.org/mutker/framealign/internal/errors"
	"codeberg.org/mutker/framealign/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS frame_index (
	       timestamp          INTEGER PRIMARY KEY,
	       measurement_count  INTEGER NOT NULL CHECK (measurement_count >= 0),
	       substituted_count  INTEGER NOT NULL CHECK (substituted_count >= 0),
	       published_at       INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS frames (
	       timestamp    INTEGER NOT NULL,
	       key_id       INTEGER NOT NULL,
	       source       TEXT NOT NULL CHECK (source <> ''),
	       value        REAL NOT NULL,
	       quality      INTEGER NOT NULL CHECK (quality IN (0, 1, 2)),
	       substituted  INTEGER NOT NULL CHECK (substituted IN (0, 1)),
	       PRIMARY KEY (timestamp, source, key_id)
	   );`

	insertFrameIndexSQL = `
    INSERT OR REPLACE INTO frame_index (
        timestamp, measurement_count, substituted_count, published_at
    ) VALUES (?, ?, ?, ?)`

	insertSlotSQL = `
    INSERT OR REPLACE INTO frames (
        timestamp, key_id, source, value, quality, substituted
    ) VALUES (?, ?, ?, ?, ?, ?)`

	selectFrameIndexSQL = `
    SELECT timestamp, measurement_count, substituted_count, published_at
    FROM frame_index
    WHERE timestamp BETWEEN ? AND ?
    ORDER BY timestamp`

	selectSlotsSQL = `
    SELECT timestamp, key_id, source, value, quality, substituted
    FROM frames
    WHERE timestamp BETWEEN ? AND ?
    ORDER BY timestamp, source, key_id`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
