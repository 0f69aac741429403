// Package dbmigrate applies the SQL files under migrations/ to PostgreSQL.
package dbmigrate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// ErrDirty is returned when a previous migration failed half way.
var ErrDirty = errors.New("database is in a dirty state")

func open(dir, dsn string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, func() { m.Close() }, nil
}

// Apply brings the schema up to date. It refuses to touch a dirty database and
// treats "no change" as success.
func Apply(dir, dsn string) error {
	m, done, err := open(dir, dsn)
	if err != nil {
		return err
	}
	defer done()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w (version %d), manual intervention required", ErrDirty, version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.WithField("version", version).Info("database schema is up to date")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	log.WithFields(log.Fields{"from": version, "to": newVersion}).Info("database migrated")
	return nil
}

// Up applies all pending migrations, or only the next steps when steps > 0.
func Up(dir, dsn string, steps int) error {
	m, done, err := open(dir, dsn)
	if err != nil {
		return err
	}
	defer done()

	if steps > 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Down rolls back all migrations, or only the last steps when steps > 0.
func Down(dir, dsn string, steps int) error {
	m, done, err := open(dir, dsn)
	if err != nil {
		return err
	}
	defer done()

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Version returns the current migration version; 0 when nothing was applied.
func Version(dir, dsn string) (uint, bool, error) {
	m, done, err := open(dir, dsn)
	if err != nil {
		return 0, false, err
	}
	defer done()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force sets the version without running migrations and clears the dirty flag.
func Force(dir, dsn string, version int) error {
	m, done, err := open(dir, dsn)
	if err != nil {
		return err
	}
	defer done()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}
