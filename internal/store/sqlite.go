// Package store is the sqlite cache index: which tool dependencies were
// installed, which scripts were compiled, and how recent launches ended.
// The index is advisory; the cache directory remains the source of truth.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Concurrent launches share the file; one connection per process
	// keeps ":memory:" databases intact as well.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Cache index opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// FetchRecord Operations
// ============================================================================

// RecordFetch inserts or replaces the record for rec.Path and sets its ID
func (s *Store) RecordFetch(rec *FetchRecord) error {
	const query = `
		INSERT INTO fetch_records (path, sha256, size, source, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			sha256 = excluded.sha256,
			size = excluded.size,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`

	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now()
	}

	if _, err := s.db.Exec(query, rec.Path, rec.SHA256, rec.Size, rec.Source, rec.FetchedAt); err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}

	// LastInsertId is not reliable for the update branch of an upsert.
	if err := s.db.QueryRow("SELECT id FROM fetch_records WHERE path = ?", rec.Path).Scan(&rec.ID); err != nil {
		return fmt.Errorf("failed to read fetch record id: %w", err)
	}

	return nil
}

// GetFetch returns the record for a repository path
func (s *Store) GetFetch(path string) (*FetchRecord, error) {
	const query = `
		SELECT id, path, sha256, size, source, fetched_at
		FROM fetch_records WHERE path = ?
	`

	rec := &FetchRecord{}
	err := s.db.QueryRow(query, path).Scan(
		&rec.ID, &rec.Path, &rec.SHA256, &rec.Size, &rec.Source, &rec.FetchedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("fetch record %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query fetch record: %w", err)
	}

	return rec, nil
}

// ListFetches returns all fetch records ordered by path
func (s *Store) ListFetches() ([]FetchRecord, error) {
	const query = `
		SELECT id, path, sha256, size, source, fetched_at
		FROM fetch_records ORDER BY path
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch records: %w", err)
	}
	defer rows.Close()

	var recs []FetchRecord
	for rows.Next() {
		rec := FetchRecord{}
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.SHA256, &rec.Size, &rec.Source, &rec.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fetch record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetch records: %w", err)
	}

	return recs, nil
}

// ============================================================================
// ArtifactRecord Operations
// ============================================================================

// RecordArtifact inserts or replaces the record for rec.ArtifactPath and sets its ID
func (s *Store) RecordArtifact(rec *ArtifactRecord) error {
	const query = `
		INSERT INTO artifact_records (
			fingerprint, script_path, runtime_version, artifact_path, compiled_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(artifact_path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			script_path = excluded.script_path,
			runtime_version = excluded.runtime_version,
			compiled_at = excluded.compiled_at,
			last_used_at = excluded.last_used_at
	`

	now := time.Now()
	if rec.CompiledAt.IsZero() {
		rec.CompiledAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = rec.CompiledAt
	}

	_, err := s.db.Exec(
		query,
		rec.Fingerprint, rec.ScriptPath, rec.RuntimeVersion, rec.ArtifactPath,
		rec.CompiledAt, rec.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}

	if err := s.db.QueryRow("SELECT id FROM artifact_records WHERE artifact_path = ?", rec.ArtifactPath).Scan(&rec.ID); err != nil {
		return fmt.Errorf("failed to read artifact record id: %w", err)
	}

	return nil
}

// TouchArtifact updates the last use of an artifact. Artifacts compiled by
// another tool version or before the index existed have no record; they are
// added with an unknown fingerprint.
func (s *Store) TouchArtifact(artifactPath, scriptPath string, usedAt time.Time) error {
	const query = `UPDATE artifact_records SET last_used_at = ? WHERE artifact_path = ?`

	result, err := s.db.Exec(query, usedAt, artifactPath)
	if err != nil {
		return fmt.Errorf("failed to touch artifact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	return s.RecordArtifact(&ArtifactRecord{
		ScriptPath:   scriptPath,
		ArtifactPath: artifactPath,
		CompiledAt:   usedAt,
		LastUsedAt:   usedAt,
	})
}

// ListArtifacts returns artifact records, most recently used first
func (s *Store) ListArtifacts(limit int) ([]ArtifactRecord, error) {
	query := `
		SELECT id, fingerprint, script_path, runtime_version, artifact_path, compiled_at, last_used_at
		FROM artifact_records
		ORDER BY last_used_at DESC
	`
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact records: %w", err)
	}
	defer rows.Close()

	var recs []ArtifactRecord
	for rows.Next() {
		rec := ArtifactRecord{}
		err := rows.Scan(
			&rec.ID, &rec.Fingerprint, &rec.ScriptPath, &rec.RuntimeVersion,
			&rec.ArtifactPath, &rec.CompiledAt, &rec.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact records: %w", err)
	}

	return recs, nil
}

// DeleteArtifact removes the record for an artifact path
func (s *Store) DeleteArtifact(artifactPath string) error {
	const query = `DELETE FROM artifact_records WHERE artifact_path = ?`

	result, err := s.db.Exec(query, artifactPath)
	if err != nil {
		return fmt.Errorf("failed to delete artifact record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("artifact record %s: %w", artifactPath, ErrNotFound)
	}

	return nil
}

// ============================================================================
// LaunchRun Operations
// ============================================================================

// CreateLaunchRun inserts a new LaunchRun and sets its ID
func (s *Store) CreateLaunchRun(run *LaunchRun) error {
	const query = `
		INSERT INTO launch_runs (launch_id, script, stage, start_time)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, run.LaunchID, run.Script, run.Stage, run.StartTime)
	if err != nil {
		return fmt.Errorf("failed to create launch run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id

	return nil
}

// FinishLaunchRun stores the outcome of a LaunchRun
func (s *Store) FinishLaunchRun(run *LaunchRun) error {
	const query = `
		UPDATE launch_runs SET
			stage = ?, exit_code = ?, error_message = ?, end_time = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, run.Stage, run.ExitCode, run.ErrorMessage, run.EndTime, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish launch run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("launch run %d: %w", run.ID, ErrNotFound)
	}

	return nil
}

// ListLaunchRuns returns recent launches, newest first. An empty script
// lists launches of every script.
func (s *Store) ListLaunchRuns(script string, limit int) ([]LaunchRun, error) {
	query := `
		SELECT id, launch_id, script, stage, exit_code, error_message, start_time, end_time
		FROM launch_runs
	`
	var args []interface{}

	if script != "" {
		query += " WHERE script = ?"
		args = append(args, script)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query launch runs: %w", err)
	}
	defer rows.Close()

	var runs []LaunchRun
	for rows.Next() {
		run := LaunchRun{}
		var endTime sql.NullTime
		err := rows.Scan(
			&run.ID, &run.LaunchID, &run.Script, &run.Stage,
			&run.ExitCode, &run.ErrorMessage, &run.StartTime, &endTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan launch run: %w", err)
		}
		if endTime.Valid {
			run.EndTime = endTime.Time
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating launch runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// Runtime Records
// ============================================================================

// RecordRuntime stores the detected version of a java binary, replacing an
// earlier record for the same path
func (s *Store) RecordRuntime(rec *RuntimeRecord) error {
	const query = `
		INSERT INTO runtime_records (java_path, binary_size, binary_mod_time, version, detected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(java_path) DO UPDATE SET
			binary_size = excluded.binary_size,
			binary_mod_time = excluded.binary_mod_time,
			version = excluded.version,
			detected_at = excluded.detected_at
	`

	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = time.Now()
	}

	if _, err := s.db.Exec(query, rec.JavaPath, rec.Size, rec.ModTime.UnixNano(), rec.Version, rec.DetectedAt); err != nil {
		return fmt.Errorf("failed to record runtime: %w", err)
	}

	if err := s.db.QueryRow("SELECT id FROM runtime_records WHERE java_path = ?", rec.JavaPath).Scan(&rec.ID); err != nil {
		return fmt.Errorf("failed to read runtime record id: %w", err)
	}

	return nil
}

// GetRuntime returns the runtime record for a java binary path
func (s *Store) GetRuntime(javaPath string) (*RuntimeRecord, error) {
	const query = `
		SELECT id, java_path, binary_size, binary_mod_time, version, detected_at
		FROM runtime_records WHERE java_path = ?
	`

	rec := &RuntimeRecord{}
	var modTime int64
	err := s.db.QueryRow(query, javaPath).Scan(
		&rec.ID, &rec.JavaPath, &rec.Size, &modTime, &rec.Version, &rec.DetectedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("runtime record %s: %w", javaPath, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query runtime record: %w", err)
	}
	rec.ModTime = time.Unix(0, modTime)

	return rec, nil
}
