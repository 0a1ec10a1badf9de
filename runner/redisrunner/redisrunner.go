// Package redisrunner processes queued tasks and schedules the listing sweep.
package redisrunner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/redis"
	"github.com/emviapp/emviapp-backend/redis/config"
	"github.com/emviapp/emviapp-backend/redis/tasks"
	"github.com/emviapp/emviapp-backend/runner"
)

// RedisRunner implements runner.Runner on top of asynq.
type RedisRunner struct {
	app     *runner.App
	server  *redis.Server
	client  *redis.Client
	handler *tasks.Handler
	cron    string
}

func New(cfg *runner.Config, app *runner.App) (*RedisRunner, error) {
	if cfg.RunMode != runner.RunModeWorker {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	redisCfg, err := config.New(cfg.RedisURL, config.WithWorkers(cfg.RedisWorkers))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis config: %w", err)
	}

	client, err := redis.NewClient(redisCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisRunner{
		app:     app,
		server:  redis.NewServer(redisCfg, app.Logger),
		client:  client,
		handler: tasks.NewHandler(app.Sweeper, app.Logger),
		cron:    cfg.SweepCron,
	}, nil
}

// Run blocks until ctx is cancelled. A sweep is queued at startup so a
// freshly deployed worker does not wait for the first cron tick.
func (r *RedisRunner) Run(ctx context.Context) error {
	if err := r.server.ScheduleSweep(r.cron); err != nil {
		return err
	}

	if err := r.server.Start(r.handler.NewServeMux()); err != nil {
		return err
	}

	queued, err := r.client.EnqueueSweep(ctx)
	if err != nil {
		r.app.Logger.Warn("failed to queue startup sweep", zap.Error(err))
	} else if !queued {
		r.app.Logger.Debug("startup sweep already queued")
	}

	<-ctx.Done()

	return nil
}

func (r *RedisRunner) Close(context.Context) error {
	r.server.Shutdown()

	if err := r.client.Close(); err != nil {
		r.app.Logger.Warn("failed to close redis client", zap.Error(err))
	}

	return r.app.Close()
}
