// Package sqlstore implements the repository contracts over database/sql
// for PostgreSQL (pgx) and SQLite (go-sqlite3). Queries are written with
// '?' placeholders and rebound for the active dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"docgate.io/internal/audit"
	"docgate.io/internal/policy"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case Postgres:
		return "pgx", nil
	case SQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported dialect %q", d)
}

// PoolConfig tunes the connection pool. Zero fields keep the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ policy.RoleDirectory = (*Store)(nil)
	_ audit.Store          = (*Store)(nil)
)

// Open connects to dsn. SQLite connections get foreign keys enabled and a
// single writer connection.
func Open(dialect Dialect, dsn string, pool PoolConfig) (*Store, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case Postgres:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	case SQLite:
		db.SetMaxOpenConns(1)
	}
	if pool.MaxOpenConns > 0 && dialect != SQLite {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an existing handle. The caller keeps ownership of db unless it
// later calls Close.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if _, err := dialect.driverName(); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Documents() *DocumentRepository { return &DocumentRepository{s: s} }

func (s *Store) Policies() *PolicyRepository { return &PolicyRepository{s: s} }

func (s *Store) Tokens() *TokenRepository { return &TokenRepository{s: s} }

// rebind turns '?' placeholders into $N for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(op, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func queryAll[T any](ctx context.Context, s *Store, op, query string, scan func(scanner) (T, error), args ...any) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
