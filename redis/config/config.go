// Package config holds the Redis settings shared by the balance cache and
// the asynq queue.
package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection and queue parameters.
type RedisConfig struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	TLSConfig     *tls.Config
	Workers       int
	RetryInterval time.Duration
	MaxRetries    int
	// QueuePriorities maps queue name to weight.
	QueuePriorities map[string]int
}

const (
	defaultWorkers       = 2
	defaultRetryInterval = 30 * time.Second
	defaultMaxRetries    = 3
	minWorkers           = 1
	maxWorkers           = 100
	minRetryInterval     = time.Second
	maxRetryInterval     = time.Hour
	minMaxRetries        = 0
	maxMaxRetries        = 10
)

// DefaultQueuePriorities defines the default priority settings for task queues
var DefaultQueuePriorities = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

type Option func(*RedisConfig)

func WithWorkers(n int) Option {
	return func(c *RedisConfig) { c.Workers = n }
}

func WithRetryInterval(d time.Duration) Option {
	return func(c *RedisConfig) { c.RetryInterval = d }
}

func WithMaxRetries(n int) Option {
	return func(c *RedisConfig) { c.MaxRetries = n }
}

// New parses a redis:// or rediss:// URL and validates the queue options.
func New(redisURL string, opts ...Option) (*RedisConfig, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	parsed, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	cfg := &RedisConfig{
		Addr:            parsed.Addr,
		Username:        parsed.Username,
		Password:        parsed.Password,
		DB:              parsed.DB,
		TLSConfig:       parsed.TLSConfig,
		Workers:         defaultWorkers,
		RetryInterval:   defaultRetryInterval,
		MaxRetries:      defaultMaxRetries,
		QueuePriorities: make(map[string]int, len(DefaultQueuePriorities)),
	}

	for queue, priority := range DefaultQueuePriorities {
		cfg.QueuePriorities[queue] = priority
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *RedisConfig) validate() error {
	if c.Workers < minWorkers || c.Workers > maxWorkers {
		return fmt.Errorf("workers must be between %d and %d", minWorkers, maxWorkers)
	}

	if c.RetryInterval < minRetryInterval || c.RetryInterval > maxRetryInterval {
		return fmt.Errorf("retry interval must be between %v and %v", minRetryInterval, maxRetryInterval)
	}

	if c.MaxRetries < minMaxRetries || c.MaxRetries > maxMaxRetries {
		return fmt.Errorf("max retries must be between %d and %d", minMaxRetries, maxMaxRetries)
	}

	return nil
}

// ClientOpt is the asynq connection for clients, servers and schedulers.
func (c *RedisConfig) ClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		TLSConfig:    c.TLSConfig,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// NewUniversalClient returns a go-redis client for the same server.
func (c *RedisConfig) NewUniversalClient() goredis.UniversalClient {
	return goredis.NewClient(&goredis.Options{
		Addr:      c.Addr,
		Username:  c.Username,
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: c.TLSConfig,
	})
}
