// Package redis runs the listing sweep on an asynq queue.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/emviapp/emviapp-backend/redis/config"
	"github.com/emviapp/emviapp-backend/redis/tasks"
)

// sweepUniqueTTL stops a burst of manual triggers from queueing duplicate sweeps.
const sweepUniqueTTL = time.Minute

// Client wraps asynq client functionality
type Client struct {
	client *asynq.Client
	mu     sync.RWMutex
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := asynq.NewClient(cfg.ClientOpt())

	if err := client.Ping(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// EnqueueTask enqueues a task with the given type and payload.
func (c *Client) EnqueueTask(ctx context.Context, taskType string, payload []byte, opts ...asynq.Option) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload), opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// EnqueueSweep queues a sweep. It reports false when an identical sweep is
// already pending.
func (c *Client) EnqueueSweep(ctx context.Context) (bool, error) {
	task, err := tasks.NewSweepTask(time.Time{})
	if err != nil {
		return false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err = c.client.EnqueueContext(ctx, task, asynq.Unique(sweepUniqueTTL))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to enqueue sweep: %w", err)
	}

	return true, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
