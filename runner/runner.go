// Package runner parses the process configuration and builds the run modes.
package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	RunModeWeb = iota + 1
	RunModeWorker
	RunModeAwsLambda
	RunModeMigrate
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
	ErrMissingConfig  = errors.New("missing required configuration")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	RunMode int
	Addr    string
	Debug   bool

	DatabaseURL         string
	StripeSecretKey     string
	StripeWebhookSecret string
	TwilioAuthToken     string

	APIKey        string
	AdminAPIKey   string
	PublicBaseURL string

	RedisURL     string
	RedisWorkers int
	NATSURL      string

	PosthogAPIKey    string
	PosthogEndpoint  string
	DisableTelemetry bool

	ArchiveBucket string
	ArchivePrefix string
	AwsAccessKey  string
	AwsSecretKey  string
	AwsRegion     string

	RequestTimeout   time.Duration
	WebhookTolerance time.Duration
	SweepInterval    time.Duration
	SweepCron        string
	AutoMigrate      bool
	MigrationsDir    string
}

// ParseConfig reads the run mode from args and everything else from the
// environment through viper.
func ParseConfig(args []string) (*Config, error) {
	cfg := Config{}

	fs := flag.NewFlagSet("emviapp", flag.ContinueOnError)

	var web, worker, lambda, migrate bool

	fs.BoolVar(&web, "web", false, "serve webhooks and the API (default mode)")
	fs.BoolVar(&worker, "worker", false, "process queued tasks and schedule the listing sweep")
	fs.BoolVar(&lambda, "aws-lambda", false, "run the listing sweep as an AWS Lambda function")
	fs.BoolVar(&migrate, "migrate", false, "apply database migrations and exit")
	fs.StringVar(&cfg.Addr, "addr", "", "address to listen on for the web server")
	fs.BoolVar(&cfg.Debug, "debug", false, "development logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("REQUEST_TIMEOUT", "5s")
	v.SetDefault("WEBHOOK_TOLERANCE", "5m")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_CRON", "@hourly")
	v.SetDefault("REDIS_WORKERS", 2)
	v.SetDefault("POSTHOG_ENDPOINT", "https://eu.i.posthog.com")
	v.SetDefault("ARCHIVE_S3_PREFIX", "webhooks")
	v.SetDefault("AUTO_MIGRATE", true)

	if cfg.Addr == "" {
		cfg.Addr = v.GetString("ADDR")
	}

	cfg.Debug = cfg.Debug || v.GetBool("DEBUG")
	cfg.DatabaseURL = v.GetString("DATABASE_URL")
	cfg.StripeSecretKey = v.GetString("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = v.GetString("STRIPE_WEBHOOK_SECRET")
	cfg.TwilioAuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	cfg.APIKey = v.GetString("API_KEY")
	cfg.AdminAPIKey = v.GetString("ADMIN_API_KEY")
	cfg.PublicBaseURL = v.GetString("PUBLIC_BASE_URL")
	cfg.RedisURL = v.GetString("REDIS_URL")
	cfg.RedisWorkers = v.GetInt("REDIS_WORKERS")
	cfg.NATSURL = v.GetString("NATS_URL")
	cfg.PosthogAPIKey = v.GetString("POSTHOG_API_KEY")
	cfg.PosthogEndpoint = v.GetString("POSTHOG_ENDPOINT")
	cfg.DisableTelemetry = v.GetBool("DISABLE_TELEMETRY")
	cfg.ArchiveBucket = v.GetString("ARCHIVE_S3_BUCKET")
	cfg.ArchivePrefix = v.GetString("ARCHIVE_S3_PREFIX")
	cfg.AwsAccessKey = v.GetString("AWS_ACCESS_KEY_ID")
	cfg.AwsSecretKey = v.GetString("AWS_SECRET_ACCESS_KEY")
	cfg.AwsRegion = v.GetString("AWS_REGION")
	cfg.RequestTimeout = v.GetDuration("REQUEST_TIMEOUT")
	cfg.WebhookTolerance = v.GetDuration("WEBHOOK_TOLERANCE")
	cfg.SweepInterval = v.GetDuration("SWEEP_INTERVAL")
	cfg.SweepCron = v.GetString("SWEEP_CRON")
	cfg.AutoMigrate = v.GetBool("AUTO_MIGRATE")
	cfg.MigrationsDir = v.GetString("MIGRATIONS_DIR")

	switch {
	case migrate:
		cfg.RunMode = RunModeMigrate
	case lambda:
		cfg.RunMode = RunModeAwsLambda
	case worker:
		cfg.RunMode = RunModeWorker
	default:
		cfg.RunMode = RunModeWeb
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports every required value missing for the run mode.
func (c *Config) Validate() error {
	required := map[string]string{"DATABASE_URL": c.DatabaseURL}

	switch c.RunMode {
	case RunModeWeb:
		required["STRIPE_SECRET_KEY"] = c.StripeSecretKey
		required["STRIPE_WEBHOOK_SECRET"] = c.StripeWebhookSecret
		required["TWILIO_AUTH_TOKEN"] = c.TwilioAuthToken
		required["API_KEY"] = c.APIKey
	case RunModeWorker:
		required["REDIS_URL"] = c.RedisURL
	case RunModeAwsLambda, RunModeMigrate:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRunMode, c.RunMode)
	}

	var err error

	for _, name := range []string{"DATABASE_URL", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "TWILIO_AUTH_TOKEN", "API_KEY", "REDIS_URL"} {
		if v, ok := required[name]; ok && strings.TrimSpace(v) == "" {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrMissingConfig, name))
		}
	}

	if c.RequestTimeout <= 0 {
		err = multierr.Append(err, errors.New("REQUEST_TIMEOUT must be positive"))
	}

	if c.RunMode == RunModeWeb && c.RedisURL == "" && c.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("SWEEP_INTERVAL must be positive"))
	}

	return err
}
