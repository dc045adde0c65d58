package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestReadTOML(t *testing.T) {
	cfg, err := Read(strings.NewReader(`
[database]
type = "sqlite"
dsn = "/var/lib/docgate/docgate.db"

[tokens]
default_ttl = "30m"
max_ttl = "48h"
redeem_rate = 0.5
redeem_burst = 3

[audit]
sink = "both"
`))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.Database.Type != DatabaseSQLite || cfg.Database.DSN != "/var/lib/docgate/docgate.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Tokens.DefaultTTL != 30*time.Minute || cfg.Tokens.MaxTTL != 48*time.Hour {
		t.Fatalf("tokens = %+v", cfg.Tokens)
	}
	if cfg.Tokens.RedeemRate != 0.5 || cfg.Tokens.RedeemBurst != 3 {
		t.Fatalf("throttle = %+v", cfg.Tokens)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unset section lost its default: %q", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docgate.toml")
	if err := os.WriteFile(path, []byte("[database]\ntype = \"memory\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("DOCGATE_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envDBType, "postgres")
	t.Setenv(envDBDSN, "postgres://docgate@localhost/docgate")
	t.Setenv(envTokenDefaultTTL, "5")
	t.Setenv(envLogLevel, "")
	os.Unsetenv(envLogLevel)

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Type != DatabasePostgres {
		t.Fatalf("env did not override type: %q", cfg.Database.Type)
	}
	if cfg.Tokens.DefaultTTL != 5*time.Minute {
		t.Fatalf("minutes form not parsed: %v", cfg.Tokens.DefaultTTL)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf(".env not applied: %q", cfg.Log.Level)
	}
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv(envRedeemBurst, "many")
	if _, err := Load("", ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown database", func(c *Config) { c.Database.Type = "mysql" }},
		{"sqlite without dsn", func(c *Config) { c.Database.Type = DatabaseSQLite }},
		{"zero ttl", func(c *Config) { c.Tokens.DefaultTTL = 0 }},
		{"max below default", func(c *Config) { c.Tokens.MaxTTL = time.Minute }},
		{"negative rate", func(c *Config) { c.Tokens.RedeemRate = -1 }},
		{"rate without burst", func(c *Config) { c.Tokens.RedeemRate = 1; c.Tokens.RedeemBurst = 0 }},
		{"unknown sink", func(c *Config) { c.Audit.Sink = "kafka" }},
		{"db sink on memory", func(c *Config) { c.Audit.Sink = AuditSinkDB }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
