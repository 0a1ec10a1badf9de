// Package webrunner serves the webhooks and the listing API.
package webrunner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emviapp/emviapp-backend/runner"
	"github.com/emviapp/emviapp-backend/web"
)

type webrunner struct {
	app *runner.App
	srv *web.Server
	cfg *runner.Config
}

func New(ctx context.Context, cfg *runner.Config, app *runner.App) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWeb {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if cfg.AutoMigrate {
		if err := app.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	srv := web.New(web.Config{
		Addr:           cfg.Addr,
		RequestTimeout: cfg.RequestTimeout,
		APIKey:         cfg.APIKey,
		AdminAPIKey:    cfg.AdminAPIKey,
	}, app.Dependencies(), app.Metrics)

	return &webrunner{app: app, srv: srv, cfg: cfg}, nil
}

func (w *webrunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.srv.Start(ctx)
	})

	// With Redis configured the worker process owns the schedule.
	if w.cfg.RedisURL == "" {
		w.app.Logger.Info("running in-process listing sweep", zap.Duration("interval", w.cfg.SweepInterval))

		egroup.Go(func() error {
			return w.app.Sweeper.Loop(ctx, w.cfg.SweepInterval)
		})
	}

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	return w.app.Close()
}
