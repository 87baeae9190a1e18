package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sg-go/internal/database/migrations"
	"sg-go/internal/sg"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase is the operations journal backed by SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock sg.Clock
}

// NewSQLiteDatabase opens the journal at path (or ":memory:") and applies
// pending migrations. A nil clock uses the system clock.
func NewSQLiteDatabase(path string, clock sg.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock sg.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = sg.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection.
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

// Start records a running operation and returns its ID.
func (s *SQLiteDatabase) Start(kind, parameters string) (int64, error) {
	res, err := s.db.ExecContext(context.Background(),
		`INSERT INTO operations (kind, parameters, status, started_at) VALUES (?, ?, 'running', ?)`,
		kind, parameters, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

// Finish stamps an operation with its final status and detail.
func (s *SQLiteDatabase) Finish(id int64, status, detail string) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE operations SET status = ?, detail = ?, finished_at = ? WHERE id = ?`,
		status, detail, s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: operation %d", sg.ErrNotFound, id)
	}
	return nil
}

// Recent returns up to limit operations, newest first.
func (s *SQLiteDatabase) Recent(limit int) ([]*sg.Operation, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, kind, parameters, status, detail, started_at, finished_at
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*sg.Operation
	for rows.Next() {
		var (
			op       sg.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Kind, &op.Parameters, &op.Status, &op.Detail, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Get returns a single operation by ID.
func (s *SQLiteDatabase) Get(id int64) (*sg.Operation, error) {
	var (
		op       sg.Operation
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(context.Background(),
		`SELECT id, kind, parameters, status, detail, started_at, finished_at FROM operations WHERE id = ?`, id).
		Scan(&op.ID, &op.Kind, &op.Parameters, &op.Status, &op.Detail, &op.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: operation %d", sg.ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading operation: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		op.FinishedAt = &t
	}
	return &op, nil
}

// LatestID returns the ID of the newest operation, or 0 for an empty journal.
func (s *SQLiteDatabase) LatestID() (int64, error) {
	var id int64
	err := s.db.QueryRowContext(context.Background(), `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting latest operation ID: %w", err)
	}
	return id, nil
}

// Prune deletes finished operations started before cutoff and returns how
// many were removed. Running operations are kept.
func (s *SQLiteDatabase) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(context.Background(),
		`DELETE FROM operations WHERE status != 'running' AND started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning operations: %w", err)
	}
	return res.RowsAffected()
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo writes a complete copy of the journal to destPath using VACUUM INTO.
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

var _ sg.History = (*SQLiteDatabase)(nil)
