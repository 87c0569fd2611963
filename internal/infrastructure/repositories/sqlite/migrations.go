package sqlite

import (
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS streams (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL DEFAULT '',
				host_id TEXT NOT NULL,
				state TEXT NOT NULL,
				capacity INTEGER NOT NULL,
				bandwidth_settings TEXT NOT NULL,
				statistics TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				started_at INTEGER,
				ended_at INTEGER
			);

			CREATE INDEX IF NOT EXISTS idx_streams_state ON streams(state);

			CREATE TABLE IF NOT EXISTS recordings (
				id TEXT PRIMARY KEY,
				stream_id TEXT NOT NULL,
				started_at INTEGER NOT NULL,
				ended_at INTEGER,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				storage_ref TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_recordings_stream_id ON recordings(stream_id, started_at);
		`,
	},
	{
		Version: 2,
		Name:    "recording_segments",
		Up: `
			ALTER TABLE recordings ADD COLUMN segments INTEGER NOT NULL DEFAULT 0;
		`,
	},
}

// Migrate applies pending migrations, each in its own transaction.
func Migrate(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			migration.Version,
			migration.Name,
			toUnix(timeNow()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func getCurrentVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to query version: %w", err)
	}
	return version, nil
}
