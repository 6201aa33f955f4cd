package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "schema_migrations"

// Migrator applies the versioned SQL files of the articles schema.
type Migrator struct {
	m      *migrate.Migrate
	conn   *sql.DB // database/sql view of the pool, owned by the migrator
	logger zerolog.Logger
}

// NewMigrator reads migrations from dir and applies them through db.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	switch {
	case db == nil:
		return nil, errors.New("migrator: database is required")
	case db.Pool == nil:
		return nil, errors.New("migrator: database pool not initialized")
	case dir == "":
		return nil, errors.New("migrator: migrations path is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrator: migrations path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrator: migrations path %q is not a directory", dir)
	}

	conn := stdlib.OpenDBFromPool(db.Pool)
	m, err := openMigrate(conn, dir)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Migrator{
		m:      m,
		conn:   conn,
		logger: logger.With().Str("component", "migrator").Str("path", dir).Logger(),
	}, nil
}

func openMigrate(conn *sql.DB, dir string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migrator: postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrator: open source: %w", err)
	}
	return m, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.apply("up", m.m.Up)
}

// Down rolls back every applied migration.
func (m *Migrator) Down() error {
	return m.apply("down", m.m.Down)
}

// Steps moves n migrations forward, or back when n is negative.
func (m *Migrator) Steps(n int) error {
	return m.apply(fmt.Sprintf("steps %+d", n), func() error { return m.m.Steps(n) })
}

// apply runs fn and logs the resulting version. Having nothing to do, or
// stepping past the last file (reported as os.ErrNotExist), is not an error.
func (m *Migrator) apply(action string, fn func() error) error {
	log := m.logger.With().Str("action", action).Logger()
	log.Info().Msg("migration started")

	err := fn()
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
		log.Info().Msg("nothing to migrate")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}

	event := log.Info()
	if version, dirty, verr := m.Version(); verr != nil {
		event = event.AnErr("version_error", verr)
	} else {
		event = event.Uint("version", version).Bool("dirty", dirty)
	}
	event.Msg("migration finished")
	return nil
}

// Version reports the applied version; 0 when nothing has been applied.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force records version as applied without running anything, clearing the
// dirty flag a failed migration leaves behind.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("migrate force %d: %w", version, err)
	}
	return nil
}

// Close releases the migration source and the database/sql handle.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.m.Close()
	var errs []error
	if sourceErr != nil {
		errs = append(errs, fmt.Errorf("close migration source: %w", sourceErr))
	}
	if dbErr != nil {
		errs = append(errs, fmt.Errorf("close migration database: %w", dbErr))
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sql handle: %w", err))
		}
	}
	return errors.Join(errs...)
}
