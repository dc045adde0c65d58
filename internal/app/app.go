// Package app wires configuration, storage, the decision engine and the
// access workflows into one object for the command line.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"docgate.io/internal/access"
	"docgate.io/internal/audit"
	"docgate.io/internal/auth"
	"docgate.io/internal/config"
	"docgate.io/internal/migrate"
	"docgate.io/internal/obs"
	"docgate.io/internal/store"
)

type App struct {
	Config        *config.Config
	Backend       *store.Backend
	AccessControl *auth.AccessControl
	Access        *access.Service
	Registry      *prometheus.Registry
}

// New opens the configured backend and builds the access service. The
// caller must Close the App.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	backend, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Database.Type, err)
	}

	reg := prometheus.NewRegistry()
	metrics, err := obs.NewMetrics(reg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := obs.RegisterBuildInfo(reg, obs.Version, obs.Commit); err != nil {
		backend.Close()
		return nil, err
	}

	ac, err := auth.NewAccessControl(backend.Policies, auth.WithMetrics(metrics))
	if err != nil {
		backend.Close()
		return nil, err
	}

	svc, err := access.NewService(access.Deps{
		Documents:     backend.Documents,
		Policies:      backend.Policies,
		Tokens:        backend.Tokens,
		AccessControl: ac,
		Audit:         newAuditLogger(cfg.Audit, backend),
	},
		access.WithMetrics(metrics),
		access.WithTokenTTL(cfg.Tokens.DefaultTTL, cfg.Tokens.MaxTTL),
		access.WithLimiter(access.NewRedemptionLimiter(cfg.Tokens.RedeemRate, cfg.Tokens.RedeemBurst)),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &App{Config: cfg, Backend: backend, AccessControl: ac, Access: svc, Registry: reg}, nil
}

func newAuditLogger(cfg config.AuditConfig, backend *store.Backend) *audit.Logger {
	lines := audit.WithSlog(obs.Logger().With(slog.String("component", "audit")))
	switch cfg.Sink {
	case config.AuditSinkDB:
		return audit.NewLogger(audit.WithStore(backend.Audit), audit.WithoutLogLines())
	case config.AuditSinkBoth:
		return audit.NewLogger(audit.WithStore(backend.Audit), lines)
	default:
		return audit.NewLogger(lines)
	}
}

// Migrations returns nil for backends without a schema.
func (a *App) Migrations() (*migrate.Manager, error) {
	return a.Backend.Migrations()
}

// RequireCurrentSchema fails when a SQL backend is not fully migrated.
func (a *App) RequireCurrentSchema() error {
	m, err := a.Migrations()
	if err != nil || m == nil {
		return err
	}
	if err := m.Check(); err != nil {
		return fmt.Errorf("%w; run 'docgate migrate up'", err)
	}
	return nil
}

// WriteMetrics writes the registry in text exposition format to path.
func (a *App) WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, a.Registry)
}

func (a *App) Close() error {
	return a.Backend.Close()
}
