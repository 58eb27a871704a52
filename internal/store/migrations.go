package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current index schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE fetch_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					path TEXT NOT NULL UNIQUE,
					sha256 TEXT NOT NULL,
					size INTEGER DEFAULT 0,
					source TEXT NOT NULL,
					fetched_at DATETIME NOT NULL
				);

				CREATE TABLE artifact_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					fingerprint TEXT NOT NULL,
					script_path TEXT NOT NULL,
					runtime_version TEXT NOT NULL DEFAULT '',
					artifact_path TEXT NOT NULL UNIQUE,
					compiled_at DATETIME NOT NULL,
					last_used_at DATETIME NOT NULL
				);

				CREATE TABLE launch_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					launch_id TEXT NOT NULL UNIQUE,
					script TEXT NOT NULL,
					stage TEXT NOT NULL,
					exit_code INTEGER DEFAULT 0,
					error_message TEXT NOT NULL DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE INDEX idx_artifact_records_fingerprint ON artifact_records(fingerprint);
				CREATE INDEX idx_launch_runs_start_time ON launch_runs(start_time);
			`,
		},
		{
			version: 3,
			sql: `
				CREATE TABLE runtime_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					java_path TEXT NOT NULL UNIQUE,
					binary_size INTEGER NOT NULL DEFAULT 0,
					binary_mod_time INTEGER NOT NULL,
					version TEXT NOT NULL,
					detected_at DATETIME NOT NULL
				);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Debug("Running index migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
