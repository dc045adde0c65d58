package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"docgate.io/internal/app"
	"docgate.io/internal/auth"
	"docgate.io/internal/config"
	"docgate.io/internal/ids"
	"docgate.io/internal/migrate"
	"docgate.io/internal/obs"
)

var (
	configPath  string
	envFile     string
	actingUser  string
	actingRoles []string
	workspace   string
	logLevel    string
	metricsOut  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp loads configuration and builds the App. The caller must defer
// a.Close(). Unless migrating, SQL backends must be on the latest schema.
func newApp(migrating bool) (*app.App, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	obs.SetLogger(obs.NewLogger(os.Stderr, cfg.Log.Level))

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	if !migrating {
		if err := a.RequireCurrentSchema(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// finish writes the metrics textfile when requested and closes the app.
func finish(a *app.App) {
	if metricsOut != "" {
		if err := a.WriteMetrics(metricsOut); err != nil {
			obs.Logger().Error("write metrics", "path", metricsOut, "error", err)
		}
	}
	a.Close()
}

// principal builds the acting user from --as and --roles plus the roles
// stored for that user. Nothing verifies --as or --roles; whoever runs the
// binary is trusted.
func principal(ctx context.Context, a *app.App) (auth.Principal, error) {
	user, err := ids.ParseUserID(actingUser)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("--as: %w", err)
	}
	stored, err := a.Backend.Roles.RolesOf(ctx, user)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.NewPrincipal(user, workspace, append(stored, actingRoles...)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:          "docgate",
	Short:        "Document access control and single-use download tokens",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docgate %s (%s)\n", obs.Version, obs.Commit)
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func migrateAction(name string, run func(a *app.App) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: strings.ToUpper(name[:1]) + name[1:] + " schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer finish(a)
			return run(a)
		},
	}
}

var migrateUpCmd = migrateAction("up", func(a *app.App) error {
	m, err := a.Migrations()
	if err != nil || m == nil {
		return noSchema(err)
	}
	if err := m.Up(); err != nil {
		return err
	}
	return printStatus(a)
})

var migrateDownCmd = migrateAction("down", func(a *app.App) error {
	m, err := a.Migrations()
	if err != nil || m == nil {
		return noSchema(err)
	}
	if err := m.Down(); err != nil {
		return err
	}
	return printStatus(a)
})

var migrateStatusCmd = migrateAction("status", printStatus)

func printStatus(a *app.App) error {
	m, err := a.Migrations()
	if err != nil || m == nil {
		return noSchema(err)
	}
	st, err := m.Status()
	if err != nil && !errors.Is(err, migrate.ErrNoVersion) {
		return err
	}
	fmt.Println(st)
	return nil
}

func noSchema(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("the %s backend has no schema", config.DatabaseMemory)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("DOCGATE_CONFIG"), "Path to a TOML config file")
	pf.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading DOCGATE_* variables")
	pf.StringVar(&actingUser, "as", os.Getenv("DOCGATE_USER"), "Acting user id")
	pf.StringSliceVar(&actingRoles, "roles", nil,
		"Extra roles of the acting user, trusted as given (no authentication); they count for role checks and role policies")
	pf.StringVar(&workspace, "workspace", "", "Workspace of the acting user")
	pf.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	pf.StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile on exit")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(auditCmd)
}
