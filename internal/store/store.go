// Package store selects a repository backend from configuration.
package store

import (
	"fmt"

	"docgate.io/internal/audit"
	"docgate.io/internal/config"
	"docgate.io/internal/document"
	"docgate.io/internal/migrate"
	"docgate.io/internal/policy"
	"docgate.io/internal/store/memory"
	"docgate.io/internal/store/sqlstore"
	"docgate.io/internal/token"
)

// AuditLog appends and lists persisted audit events.
type AuditLog interface {
	audit.Store
	audit.Reader
}

// Backend bundles the repositories of one storage engine.
type Backend struct {
	Documents document.Repository
	Policies  policy.Repository
	Tokens    token.Repository
	Roles     policy.RoleDirectory
	Audit     AuditLog

	sql   *sqlstore.Store
	close func() error
}

// Open creates the backend named by cfg.Type.
func Open(cfg config.DatabaseConfig) (*Backend, error) {
	switch cfg.Type {
	case config.DatabaseMemory:
		s := memory.New()
		return &Backend{
			Documents: s.Documents(),
			Policies:  s.Policies(),
			Tokens:    s.Tokens(),
			Roles:     s,
			Audit:     s,
			close:     s.Close,
		}, nil
	case config.DatabaseSQLite, config.DatabasePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for %s database", cfg.Type)
		}
		s, err := sqlstore.Open(sqlstore.Dialect(cfg.Type), cfg.DSN, sqlstore.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{
			Documents: s.Documents(),
			Policies:  s.Policies(),
			Tokens:    s.Tokens(),
			Roles:     s,
			Audit:     s,
			sql:       s,
			close:     s.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// Migrations returns the schema manager, or nil for the memory backend.
func (b *Backend) Migrations() (*migrate.Manager, error) {
	if b.sql == nil {
		return nil, nil
	}
	return migrate.NewManager(b.sql.DB(), string(b.sql.Dialect()))
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}
