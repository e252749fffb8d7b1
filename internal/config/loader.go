package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies URBANIUM_* environment variable overrides, and
// returns the final Config. An empty path starts from the defaults alone.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known URBANIUM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "URBANIUM_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "URBANIUM_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "URBANIUM_DATABASE_HOST")
	setInt(&cfg.Database.Port, "URBANIUM_DATABASE_PORT")
	setStr(&cfg.Database.Database, "URBANIUM_DATABASE_NAME")
	setStr(&cfg.Database.User, "URBANIUM_DATABASE_USER")
	setStr(&cfg.Database.Password, "URBANIUM_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "URBANIUM_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "URBANIUM_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "URBANIUM_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "URBANIUM_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "URBANIUM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "URBANIUM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "URBANIUM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "URBANIUM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "URBANIUM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "URBANIUM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "URBANIUM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "URBANIUM_S3_REGION")
	setStr(&cfg.S3.Bucket, "URBANIUM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "URBANIUM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "URBANIUM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "URBANIUM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "URBANIUM_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "URBANIUM_S3_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "URBANIUM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "URBANIUM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "URBANIUM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "URBANIUM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "URBANIUM_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.SignedRoutes, "URBANIUM_SERVER_SIGNED_ROUTES")

	// ── Oracle ──
	setBool(&cfg.Oracle.Enabled, "URBANIUM_ORACLE_ENABLED")
	setStr(&cfg.Oracle.HermesURL, "URBANIUM_ORACLE_HERMES_URL")
	setStringSlice(&cfg.Oracle.Feeds, "URBANIUM_ORACLE_FEEDS")
	setStr(&cfg.Oracle.Publisher, "URBANIUM_ORACLE_PUBLISHER")
	setDuration(&cfg.Oracle.Interval, "URBANIUM_ORACLE_INTERVAL")
	setDuration(&cfg.Oracle.Timeout, "URBANIUM_ORACLE_TIMEOUT")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "URBANIUM_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "URBANIUM_KEEPER_INTERVAL")
	setStr(&cfg.Keeper.PrivateKey, "URBANIUM_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.EncryptedKeyPath, "URBANIUM_KEEPER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keeper.KeyPassword, "URBANIUM_KEEPER_KEY_PASSWORD")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "URBANIUM_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "URBANIUM_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "URBANIUM_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Snapshot, "URBANIUM_ARCHIVE_SNAPSHOT")

	// ── Lock ──
	setDuration(&cfg.Lock.TTL, "URBANIUM_LOCK_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "URBANIUM_MODE")
	setStr(&cfg.Store, "URBANIUM_STORE")
	setStr(&cfg.LogLevel, "URBANIUM_LOG_LEVEL")
	setStr(&cfg.LogFile, "URBANIUM_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
