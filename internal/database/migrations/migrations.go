// Package migrations carries the journal schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFS embed.FS

// ErrUnversioned is reported for a journal that was never migrated.
var ErrUnversioned = errors.New("journal has no schema version")

// Schema describes where a journal stands relative to this binary.
type Schema struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Err explains why the journal cannot be used as is, or returns nil.
func (s Schema) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("journal schema is dirty at version %d; a previous migration failed", s.Current)
	case s.Current < s.Latest:
		return fmt.Errorf("journal schema is at version %d, %d migration(s) behind version %d", s.Current, s.Latest-s.Current, s.Latest)
	case s.Current > s.Latest:
		return fmt.Errorf("journal schema version %d is newer than this binary (%d); upgrade sg", s.Current, s.Latest)
	}
	return nil
}

// Inspect reads the schema version of db without changing it.
func Inspect(db *sql.DB) (Schema, error) {
	latest, err := Latest()
	if err != nil {
		return Schema{}, err
	}
	m, err := open(db)
	if err != nil {
		return Schema{}, err
	}
	// Closing m would close db.
	current, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Schema{Latest: latest}, ErrUnversioned
	}
	if err != nil {
		return Schema{}, fmt.Errorf("reading journal schema version: %w", err)
	}
	return Schema{Current: current, Latest: latest, Dirty: dirty}, nil
}

// Check returns nil when db is at exactly the embedded schema version.
func Check(db *sql.DB) error {
	s, err := Inspect(db)
	if err != nil {
		return err
	}
	return s.Err()
}

// Up brings db to the embedded schema version. Nothing to do is not an error.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating journal: %w", err)
	}
	return nil
}

// Latest returns the newest schema version embedded in the binary.
func Latest() (uint, error) {
	src, err := iofs.New(schemaFS, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded schema: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFS, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schema: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening journal for migration: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing journal migration: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
