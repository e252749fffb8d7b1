// Package config defines the top-level configuration for the urbanium vault
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by URBANIUM_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Oracle   OracleConfig   `toml:"oracle"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Lock     LockConfig     `toml:"lock"`
	// Mode selects which components run: api, keeper or full.
	Mode string `toml:"mode"`
	// Store selects the backing store: memory or postgres. Postgres also
	// brings in redis for locks, feeds, events and rate limits.
	Store    string `toml:"store"`
	LogLevel string `toml:"log_level"`
	// LogFile, when set, receives rotated log output besides stdout.
	LogFile string `toml:"log_file"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every route except health and metrics. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit requests per RateWindow per client; 0 disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// SignedRoutes requires an executor signature on every route request.
	SignedRoutes bool `toml:"signed_routes"`
}

// OracleConfig configures the upstream price poller.
type OracleConfig struct {
	Enabled   bool     `toml:"enabled"`
	HermesURL string   `toml:"hermes_url"`
	Feeds     []string `toml:"feeds"`
	// Publisher is written as the owner of every feed account. Vaults must
	// name the same identity as their oracle owner.
	Publisher string   `toml:"publisher"`
	Interval  duration `toml:"interval"`
	Timeout   duration `toml:"timeout"`
}

// KeeperTarget is one vault the keeper routes for.
type KeeperTarget struct {
	Vault  string `toml:"vault"`
	Amount uint64 `toml:"amount"`
	Bps    uint16 `toml:"bps"`
}

// KeeperConfig configures periodic yield routing.
type KeeperConfig struct {
	Enabled          bool           `toml:"enabled"`
	Interval         duration       `toml:"interval"`
	Targets          []KeeperTarget `toml:"targets"`
	PrivateKey       string         `toml:"private_key"`
	EncryptedKeyPath string         `toml:"encrypted_key_path"`
	KeyPassword      string         `toml:"key_password"`
}

// ArchiveConfig configures the audit archive and position snapshots.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	// Snapshot writes position snapshots for every vault on each run.
	Snapshot bool `toml:"snapshot"`
}

// LockConfig holds the per-vault lock parameters.
type LockConfig struct {
	TTL duration `toml:"ttl"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "urbanium",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "urbanium-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Oracle: OracleConfig{
			HermesURL: "https://hermes.pyth.network",
			Interval:  duration{5 * time.Second},
			Timeout:   duration{10 * time.Second},
		},
		Keeper: KeeperConfig{
			Interval: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
			Snapshot:      true,
		},
		Lock: LockConfig{
			TTL: duration{10 * time.Second},
		},
		Mode:     "full",
		Store:    "memory",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"keeper": true,
	"full":   true,
}

// validStores enumerates the accepted values for Config.Store.
var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesPostgres reports whether the postgres and redis adapters are needed.
func (c *Config) UsesPostgres() bool {
	return strings.EqualFold(c.Store, "postgres")
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "api" || m == "full"
}

// RunsWorkers reports whether the mode runs the poller, keeper and archiver.
func (c *Config) RunsWorkers() bool {
	m := strings.ToLower(c.Mode)
	return m == "keeper" || m == "full"
}

// ExecutorKeyConfigured reports whether a keeper key source is set.
func (c *Config) ExecutorKeyConfigured() bool {
	return c.Keeper.PrivateKey != "" || c.Keeper.EncryptedKeyPath != ""
}

// FeedIDs parses the configured oracle feed identities.
func (c *Config) FeedIDs() ([]domain.ID, error) {
	ids := make([]domain.ID, 0, len(c.Oracle.Feeds))
	for _, f := range c.Oracle.Feeds {
		id, err := domain.ParseID(f)
		if err != nil {
			return nil, fmt.Errorf("oracle: feed %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, keeper, full)", c.Mode))
	}
	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: memory, postgres)", c.Store))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.UsesPostgres() {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Oracle.Enabled {
		if c.Oracle.HermesURL == "" {
			errs = append(errs, "oracle: hermes_url must not be empty when enabled")
		}
		if len(c.Oracle.Feeds) == 0 {
			errs = append(errs, "oracle: at least one feed is required when enabled")
		}
		if _, err := c.FeedIDs(); err != nil {
			errs = append(errs, err.Error())
		}
		if _, err := domain.ParseID(c.Oracle.Publisher); err != nil {
			errs = append(errs, fmt.Sprintf("oracle: publisher %q is not an identity", c.Oracle.Publisher))
		}
		if c.Oracle.Interval.Duration <= 0 {
			errs = append(errs, "oracle: interval must be > 0")
		}
	}

	if c.Keeper.Enabled {
		if !c.ExecutorKeyConfigured() {
			errs = append(errs, "keeper: either private_key or encrypted_key_path must be set")
		}
		if c.Keeper.EncryptedKeyPath != "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when encrypted_key_path is set")
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		for i, t := range c.Keeper.Targets {
			if _, err := domain.ParseID(t.Vault); err != nil {
				errs = append(errs, fmt.Sprintf("keeper: targets[%d]: vault %q is not an identity", i, t.Vault))
			}
			if t.Amount == 0 && (t.Bps == 0 || t.Bps > 10_000) {
				errs = append(errs, fmt.Sprintf("keeper: targets[%d]: set amount or bps in 1-10000", i))
			}
		}
	}

	if c.Archive.Enabled {
		if !c.UsesPostgres() {
			errs = append(errs, "archive: requires store = \"postgres\"")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if c.Lock.TTL.Duration <= 0 {
		errs = append(errs, "lock: ttl must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
