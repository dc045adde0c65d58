// Package config loads docgate settings from defaults, an optional TOML
// file and DOCGATE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	envDBType          = "DOCGATE_DB_TYPE"
	envDBDSN           = "DOCGATE_DB_DSN"
	envDBMaxOpenConns  = "DOCGATE_DB_MAX_OPEN_CONNS"
	envDBMaxIdleConns  = "DOCGATE_DB_MAX_IDLE_CONNS"
	envTokenDefaultTTL = "DOCGATE_TOKEN_DEFAULT_TTL"
	envTokenMaxTTL     = "DOCGATE_TOKEN_MAX_TTL"
	envRedeemRate      = "DOCGATE_REDEEM_RATE"
	envRedeemBurst     = "DOCGATE_REDEEM_BURST"
	envAuditSink       = "DOCGATE_AUDIT_SINK"
	envLogLevel        = "DOCGATE_LOG_LEVEL"
)

const (
	defaultTokenTTL    = 15 * time.Minute
	defaultTokenMaxTTL = 7 * 24 * time.Hour
	defaultRedeemBurst = 10
)

// Database types.
const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// Audit sinks.
const (
	AuditSinkLog  = "log"
	AuditSinkDB   = "db"
	AuditSinkBoth = "both"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Tokens   TokensConfig   `toml:"tokens"`
	Audit    AuditConfig    `toml:"audit"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig uses a tagged union: Type decides which fields matter.
type DatabaseConfig struct {
	Type            string        `toml:"type"`          // "memory", "sqlite" or "postgres"
	DSN             string        `toml:"dsn,omitempty"` // file path for sqlite, URL for postgres
	MaxOpenConns    int           `toml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `toml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime,omitempty"`
}

type TokensConfig struct {
	DefaultTTL time.Duration `toml:"default_ttl"`
	MaxTTL     time.Duration `toml:"max_ttl"`
	// RedeemRate is redemption attempts per second per user; zero disables
	// throttling.
	RedeemRate  float64 `toml:"redeem_rate"`
	RedeemBurst int     `toml:"redeem_burst"`
}

type AuditConfig struct {
	Sink string `toml:"sink"` // "log", "db" or "both"
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Type: DatabaseMemory},
		Tokens: TokensConfig{
			DefaultTTL:  defaultTokenTTL,
			MaxTTL:      defaultTokenMaxTTL,
			RedeemBurst: defaultRedeemBurst,
		},
		Audit: AuditConfig{Sink: AuditSinkLog},
		Log:   LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path and envFile are optional; a missing
// envFile is ignored, a missing path is not.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()
		if cfg, err = Read(f); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read decodes TOML from r over the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseMemory:
	case DatabaseSQLite, DatabasePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}
	if c.Tokens.DefaultTTL <= 0 {
		return errors.New("tokens.default_ttl must be positive")
	}
	if c.Tokens.MaxTTL < c.Tokens.DefaultTTL {
		return errors.New("tokens.max_ttl must not be shorter than tokens.default_ttl")
	}
	if c.Tokens.RedeemRate < 0 {
		return errors.New("tokens.redeem_rate must not be negative")
	}
	if c.Tokens.RedeemRate > 0 && c.Tokens.RedeemBurst <= 0 {
		return errors.New("tokens.redeem_burst must be positive when throttling is enabled")
	}
	switch c.Audit.Sink {
	case AuditSinkLog, AuditSinkDB, AuditSinkBoth:
	default:
		return fmt.Errorf("unknown audit sink: %q", c.Audit.Sink)
	}
	if c.Audit.Sink != AuditSinkLog && c.Database.Type == DatabaseMemory {
		return errors.New("audit.sink db requires a sql database")
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Database.Type = getEnv(envDBType, c.Database.Type)
	c.Database.DSN = getEnv(envDBDSN, c.Database.DSN)
	c.Audit.Sink = getEnv(envAuditSink, c.Audit.Sink)
	c.Log.Level = getEnv(envLogLevel, c.Log.Level)

	var err error
	if c.Database.MaxOpenConns, err = getIntEnv(envDBMaxOpenConns, c.Database.MaxOpenConns); err != nil {
		return err
	}
	if c.Database.MaxIdleConns, err = getIntEnv(envDBMaxIdleConns, c.Database.MaxIdleConns); err != nil {
		return err
	}
	if c.Tokens.DefaultTTL, err = getDurationEnv(envTokenDefaultTTL, c.Tokens.DefaultTTL); err != nil {
		return err
	}
	if c.Tokens.MaxTTL, err = getDurationEnv(envTokenMaxTTL, c.Tokens.MaxTTL); err != nil {
		return err
	}
	if c.Tokens.RedeemBurst, err = getIntEnv(envRedeemBurst, c.Tokens.RedeemBurst); err != nil {
		return err
	}
	if v := os.Getenv(envRedeemRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envRedeemRate, err)
		}
		c.Tokens.RedeemRate = rate
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getDurationEnv accepts Go durations ("90s") or whole minutes ("15").
func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	minutes, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return time.Duration(minutes) * time.Minute, nil
}
