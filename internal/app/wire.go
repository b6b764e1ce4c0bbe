package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/cache/redis"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/service"
	"github.com/alanyoungcy/polyarb/internal/store/postgres"
)

const notifyCooldown = 5 * time.Minute

// Dependencies bundles the optional infrastructure. Every field is nil when
// its backend is disabled in the configuration.
type Dependencies struct {
	// Redis
	Mirror  domain.SnapshotMirror
	Bus     domain.SignalBus
	Locker  domain.LockManager
	Limiter domain.RateLimiter

	// Postgres
	Ledger *service.Ledger

	// S3
	Archiver domain.Archiver
	Lister   domain.BlobLister

	Notifier *notify.Notifier

	// Checks are probed by the health endpoint.
	Checks map[string]handler.Pinger
}

// Wire connects the enabled backends and returns them together with a
// cleanup function that closes them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pg.Pool()
		deps.Ledger = &service.Ledger{
			Trades:        postgres.NewTradeStore(pool),
			Positions:     postgres.NewPositionStore(pool),
			Opportunities: postgres.NewOpportunityStore(pool),
			Accounts:      postgres.NewAccountStore(pool),
		}
		deps.Checks["postgres"] = pg
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
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
		closers = append(closers, func() { _ = rc.Close() })

		deps.Mirror = redis.NewSnapshotCache(rc, cfg.Redis.SnapshotTTL.Duration)
		deps.Bus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Locker = redis.NewLockManager(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Checks["redis"] = rc
	}

	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc))
		deps.Lister = s3blob.NewLister(sc)
		deps.Checks["s3"] = handler.PingFunc(sc.Health)
	}

	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify, logger), cfg.Notify.Events, notifyCooldown, logger)

	return deps, cleanup, nil
}

func buildSenders(cfg config.NotifyConfig, logger *slog.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID, "")
		if err != nil {
			logger.Warn("telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
