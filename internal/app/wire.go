package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/urbanium/internal/blob/s3"
	"github.com/alanyoungcy/urbanium/internal/cache/redis"
	"github.com/alanyoungcy/urbanium/internal/config"
	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/server/handler"
	"github.com/alanyoungcy/urbanium/internal/store/memory"
	"github.com/alanyoungcy/urbanium/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Store domain.Store
	Audit domain.AuditStore
	Clock domain.Clock

	Feeds   domain.FeedStore
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Events  domain.EventLog
	Limiter domain.RateLimiter

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	// Health is keyed by dependency name and served on /api/health.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock:  domain.SystemClock{},
		Health: make(map[string]handler.HealthCheck),
	}

	if !cfg.UsesPostgres() {
		logger.Warn("wire: using in-memory store; state is lost on exit")
		deps.Store = memory.New(deps.Clock)
		deps.Audit = memory.NewAuditStore(deps.Clock)
		deps.Feeds = memory.NewFeedStore()
		deps.Locks = memory.NewLockManager(deps.Clock)
		deps.Bus = memory.NewSignalBus()
		deps.Events = memory.NewEventLog(0)
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgresConfig(cfg))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	store := postgres.NewStore(pool)
	deps.Store = store
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Health["postgres"] = pool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Feeds = redis.NewFeedStore(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)
	deps.Events = redis.NewEventLog(redisClient, 0)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.Health["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, S3ClientConfig(cfg))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			store.Vaults(),
			store.Positions(),
			deps.Audit,
			deps.Clock,
		)
		deps.Health["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}

func postgresConfig(cfg *config.Config) postgres.ClientConfig {
	return postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	}
}

// S3ClientConfig maps the s3 section onto the blob client settings.
func S3ClientConfig(cfg *config.Config) s3blob.ClientConfig {
	return s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		Prefix:         cfg.S3.Prefix,
	}
}

// Migrate applies the embedded schema migrations and exits.
func Migrate(ctx context.Context, cfg *config.Config) error {
	pgClient, err := postgres.New(ctx, postgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("migrate: postgres: %w", err)
	}
	defer pgClient.Close()
	if err := pgClient.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
