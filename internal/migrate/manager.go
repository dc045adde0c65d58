package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const defaultMigrationsTable = "schema_migrations"

// Dialects with embedded migrations.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed files/postgres/*.sql files/sqlite/*.sql
var migrationFiles embed.FS

// ErrNoVersion reports a database that has never been migrated.
var ErrNoVersion = errors.New("database has no schema version (needs migration)")

// Manager applies the embedded schema migrations for one dialect. The
// caller owns db; the Manager never closes it.
type Manager struct {
	db              *sql.DB
	dialect         string
	migrationsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, dialect string, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}
	m := &Manager{
		db:              db,
		dialect:         dialect,
		migrationsTable: defaultMigrationsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Up applies all pending migrations.
func (m *Manager) Up() error {
	mig, err := m.newMigrate()
	if err != nil {
		return err
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down() error {
	mig, err := m.newMigrate()
	if err != nil {
		return err
	}
	if err := mig.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return errors.New("no migrations applied")
		}
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

// Status describes the schema version of the database.
type Status struct {
	Version uint
	Latest  uint
	Dirty   bool
}

func (s Status) String() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("version %d (dirty, migration failed previously)", s.Version)
	case s.Version < s.Latest:
		return fmt.Sprintf("version %d, latest %d (%d migrations behind)", s.Version, s.Latest, s.Latest-s.Version)
	case s.Version > s.Latest:
		return fmt.Sprintf("version %d is ahead of binary version %d", s.Version, s.Latest)
	default:
		return fmt.Sprintf("version %d (up to date)", s.Version)
	}
}

// Status reports the applied and latest versions. A fresh database yields
// ErrNoVersion together with the latest version.
func (m *Manager) Status() (Status, error) {
	latest, err := m.latestVersion()
	if err != nil {
		return Status{}, err
	}
	mig, err := m.newMigrate()
	if err != nil {
		return Status{}, err
	}
	version, dirty, err := mig.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return Status{Latest: latest}, ErrNoVersion
		}
		return Status{}, fmt.Errorf("failed to get database version: %w", err)
	}
	return Status{Version: version, Latest: latest, Dirty: dirty}, nil
}

// Check returns nil only when the database is at the latest version.
func (m *Manager) Check() error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	if st.Dirty || st.Version != st.Latest {
		return fmt.Errorf("schema not current: %s", st)
	}
	return nil
}

func (m *Manager) newMigrate() (*migrate.Migrate, error) {
	src, err := m.source()
	if err != nil {
		return nil, err
	}
	var (
		drv  database.Driver
		name string
	)
	switch m.dialect {
	case DialectPostgres:
		name = "pgx5"
		drv, err = pgxmigrate.WithInstance(m.db, &pgxmigrate.Config{MigrationsTable: m.migrationsTable})
	case DialectSQLite:
		name = "sqlite3"
		drv, err = sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: m.migrationsTable})
	}
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mig, nil
}

func (m *Manager) source() (source.Driver, error) {
	src, err := iofs.New(migrationFiles, "files/"+m.dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	return src, nil
}

func (m *Manager) latestVersion() (uint, error) {
	src, err := m.source()
	if err != nil {
		return 0, err
	}
	defer src.Close()
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			break
		}
		version = next
	}
	return version, nil
}
