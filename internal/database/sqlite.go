package database

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	"relsync/internal/database/migrations"
	"relsync/internal/release"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SQLiteDatabase keeps the installed record of every install root and the
// operation history in one SQLite file.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock release.Clock
}

var _ release.RecordStore = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens path (":memory:" for an in-memory database) and
// brings its schema up to date. A nil clock uses the wall clock.
func NewSQLiteDatabase(path string, clock release.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	if clock == nil {
		clock = release.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection without touching
// the schema.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Installed records

func (s *SQLiteDatabase) GetInstalled(installRoot string) (*release.InstalledRecord, error) {
	row := s.db.QueryRow(`
		SELECT install_root, manifest_json, installed_at
		FROM installed_manifests WHERE install_root = ?`, installRoot)

	rec, err := scanInstalled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding installed record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) PutInstalled(installRoot string, m *release.Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO installed_manifests
			(install_root, version, architecture, install_type, manifest_json, installed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (install_root) DO UPDATE SET
			version = excluded.version,
			architecture = excluded.architecture,
			install_type = excluded.install_type,
			manifest_json = excluded.manifest_json,
			installed_at = excluded.installed_at`,
		installRoot, m.Version, m.Architecture, m.InstallType, buf.String(), s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving installed record: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteInstalled(installRoot string) error {
	if _, err := s.db.Exec(`DELETE FROM installed_manifests WHERE install_root = ?`, installRoot); err != nil {
		return fmt.Errorf("deleting installed record: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListInstalled() ([]*release.InstalledRecord, error) {
	rows, err := s.db.Query(`
		SELECT install_root, manifest_json, installed_at
		FROM installed_manifests ORDER BY install_root`)
	if err != nil {
		return nil, fmt.Errorf("listing installed records: %w", err)
	}
	defer rows.Close()

	var records []*release.InstalledRecord
	for rows.Next() {
		rec, err := scanInstalled(rows)
		if err != nil {
			return nil, fmt.Errorf("reading installed record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstalled(row scanner) (*release.InstalledRecord, error) {
	var (
		rec  release.InstalledRecord
		body string
	)
	if err := row.Scan(&rec.InstallRoot, &body, &rec.InstalledAt); err != nil {
		return nil, err
	}
	m, err := release.DecodeManifest(bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("stored manifest for %s: %w", rec.InstallRoot, err)
	}
	rec.Manifest = m
	return &rec, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*release.Operation, error) {
	startedAt := s.clock.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO operations (operation, parameters, status, started_at)
		VALUES (?, ?, ?, ?)`, operation, parameters, StatusRunning, startedAt)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &release.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusRunning,
		StartedAt:  startedAt,
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	res, err := s.db.Exec(`
		UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`,
		status, s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

// ListOperations returns the most recent operations first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*release.Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, parameters, status, started_at, finished_at
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*release.Operation
	for rows.Next() {
		var (
			op       release.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("reading operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo writes a consistent copy of the database to destPath.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

