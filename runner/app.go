package runner

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/archive"
	"github.com/emviapp/emviapp-backend/billing"
	"github.com/emviapp/emviapp-backend/cache"
	"github.com/emviapp/emviapp-backend/config"
	"github.com/emviapp/emviapp-backend/events"
	"github.com/emviapp/emviapp-backend/ledger"
	"github.com/emviapp/emviapp-backend/lifecycle"
	"github.com/emviapp/emviapp-backend/listing"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/postgres"
	redisconfig "github.com/emviapp/emviapp-backend/redis/config"
	stripeapi "github.com/emviapp/emviapp-backend/stripe"
	"github.com/emviapp/emviapp-backend/tlmt"
	"github.com/emviapp/emviapp-backend/tlmt/gonoop"
	"github.com/emviapp/emviapp-backend/tlmt/goposthog"
	"github.com/emviapp/emviapp-backend/web/handlers"
	"github.com/emviapp/emviapp-backend/webhook"
)

// cacheKeyPrefix namespaces this service's Redis keys; the ledger adds its
// own "balance:" segment.
const cacheKeyPrefix = "emviapp:"

// App holds the services shared by every run mode.
type App struct {
	Config    *Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Pool      *pgxpool.Pool
	Store     *postgres.Store
	Settings  *config.Service
	Publisher events.Publisher
	Telemetry tlmt.Telemetry
	Archiver  archive.Archiver

	Ledger    *ledger.Service
	Fulfiller *billing.Fulfiller
	Billing   *billing.Service
	Listings  *listing.Service
	Sweeper   *lifecycle.Sweeper
	Stripe    *webhook.StripeReceiver
	Twilio    *webhook.TwilioReceiver

	closers []func() error
}

func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// NewApp connects to the backing services named in cfg. Optional ones
// (Redis, NATS, PostHog, S3) fall back to in-process or no-op versions.
func NewApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New("emviapp"),
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.Store = postgres.NewStore(pool)
	a.Settings = config.New(pool)

	if err := a.connectOptional(ctx); err != nil {
		return nil, multierr.Append(err, a.Close())
	}

	var balances cache.Cache

	if cfg.RedisURL != "" {
		rcfg, err := redisconfig.New(cfg.RedisURL)
		if err != nil {
			return nil, multierr.Append(err, a.Close())
		}

		client := rcfg.NewUniversalClient()
		a.closers = append(a.closers, client.Close)
		balances = cache.NewRedis(client, cacheKeyPrefix)
	} else {
		balances = cache.NewMemory()
	}

	a.Ledger = ledger.New(a.Store, balances, a.Metrics, logger)
	a.Fulfiller = billing.NewFulfiller(a.Store, a.Ledger, a.Publisher, a.Telemetry, a.Metrics, logger, nil)
	a.Billing = billing.New(stripeapi.NewClient(cfg.StripeSecretKey), a.Settings, a.Fulfiller, logger)
	a.Listings = listing.New(a.Store, a.Ledger, a.Billing, a.Publisher, a.Telemetry, a.Metrics, logger)
	a.Sweeper = lifecycle.NewSweeper(a.Store, a.Settings, a.Publisher, a.Telemetry, a.Metrics, logger)
	a.Stripe = webhook.NewStripeReceiver(cfg.StripeWebhookSecret, a.Fulfiller, a.Archiver, a.Metrics, logger,
		webhook.WithTolerance(cfg.WebhookTolerance))
	a.Twilio = webhook.NewTwilioReceiver(cfg.TwilioAuthToken, a.Publisher, a.Metrics, logger)

	return a, nil
}

func (a *App) connectOptional(ctx context.Context) error {
	cfg := a.Config

	a.Publisher = events.NewNoop()

	if cfg.NATSURL != "" {
		conn, err := events.Connect(cfg.NATSURL, a.Logger)
		if err != nil {
			return err
		}

		a.Publisher = events.NewNATSPublisher(conn)
		a.closers = append(a.closers, a.Publisher.Close)
	}

	a.Telemetry = gonoop.New()

	if !cfg.DisableTelemetry && cfg.PosthogAPIKey != "" {
		t, err := goposthog.New(cfg.PosthogAPIKey, cfg.PosthogEndpoint)
		if err != nil {
			a.Logger.Warn("telemetry disabled", zap.Error(err))
		} else {
			a.Telemetry = t
			a.closers = append(a.closers, t.Close)
		}
	}

	a.Archiver = archive.NewNoop()

	if cfg.ArchiveBucket != "" {
		s3, err := archive.NewS3(ctx, cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			return fmt.Errorf("failed to create webhook archive: %w", err)
		}

		a.Archiver = s3
	}

	return nil
}

func (a *App) Migrate(ctx context.Context) error {
	m := postgres.NewMigrationRunner(a.Config.DatabaseURL, a.Logger)

	if a.Config.MigrationsDir != "" {
		if err := m.SetMigrationsDir(a.Config.MigrationsDir); err != nil {
			return err
		}
	}

	return m.RunMigrations(ctx)
}

// Dependencies exposes the services the HTTP handlers need.
func (a *App) Dependencies() handlers.Dependencies {
	return handlers.Dependencies{
		Logger:        a.Logger,
		Stripe:        a.Stripe,
		Twilio:        a.Twilio,
		Listings:      a.Listings,
		Ledger:        a.Ledger,
		Billing:       a.Billing,
		Sweeper:       a.Sweeper,
		Ping:          a.Pool.Ping,
		PublicBaseURL: a.Config.PublicBaseURL,
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var err error

	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}

	a.closers = nil

	return err
}
