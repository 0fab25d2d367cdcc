package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/chainflowlabs/sentinel/internal/blob/s3"
	"github.com/chainflowlabs/sentinel/internal/cache/redis"
	"github.com/chainflowlabs/sentinel/internal/config"
	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/market"
	"github.com/chainflowlabs/sentinel/internal/notify"
	"github.com/chainflowlabs/sentinel/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore  domain.PositionStore
	ExecutionStore domain.ExecutionStore
	SnapshotStore  domain.SnapshotStore
	AuditStore     domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	YieldCache  domain.YieldCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Market data (aggregator client behind the Redis read-through cache)
	Provider domain.MarketDataProvider

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "full", "monitor":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

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

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Market.PriceCacheAge.Duration)
	deps.YieldCache = redis.NewYieldCache(redisClient, cfg.Market.YieldCacheAge.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Market data provider ---
	client := market.NewClient(cfg.Market.BaseURL)
	if cfg.Market.RateLimit > 0 {
		client.SetRateLimiter(deps.RateLimiter)
	}
	deps.Provider = market.NewCachedProvider(client, deps.YieldCache, deps.PriceCache, logger)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// Archiver needs the Postgres stores to read from.
		if deps.PositionStore != nil && deps.ExecutionStore != nil && deps.SnapshotStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.PositionStore,
				deps.ExecutionStore,
				deps.SnapshotStore,
				deps.AuditStore,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, minSeverity(cfg.Notify.MinLevel), logger)

	return deps, cleanup, nil
}

// minSeverity maps the configured notification level onto the event severity
// scale. Unknown values admit everything.
func minSeverity(level string) domain.Severity {
	switch level {
	case "warning", "warn":
		return domain.SeverityWarning
	case "critical":
		return domain.SeverityCritical
	case "info":
		return domain.SeverityInfo
	default:
		return ""
	}
}
