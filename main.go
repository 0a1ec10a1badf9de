package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/runner"
	"github.com/emviapp/emviapp-backend/runner/lambdaaws"
	"github.com/emviapp/emviapp-backend/runner/migraterunner"
	"github.com/emviapp/emviapp-backend/runner/redisrunner"
	"github.com/emviapp/emviapp-backend/runner/webrunner"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := runner.ParseConfig(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := runner.NewLogger(cfg.Debug)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runnerInstance, err := runnerFactory(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		cancel()
		os.Exit(1)
	}

	code := 0

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner stopped", zap.Error(err))

		code = 1
	}

	logger.Info("shutting down")

	if err := runnerInstance.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("failed to close cleanly", zap.Error(err))
	}

	cancel()
	_ = logger.Sync()

	os.Exit(code)
}

func runnerFactory(ctx context.Context, cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode == runner.RunModeMigrate {
		return migraterunner.New(cfg, logger)
	}

	app, err := runner.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var r runner.Runner

	switch cfg.RunMode {
	case runner.RunModeWeb:
		r, err = webrunner.New(ctx, cfg, app)
	case runner.RunModeWorker:
		r, err = redisrunner.New(cfg, app)
	case runner.RunModeAwsLambda:
		r, err = lambdaaws.New(cfg, app)
	default:
		err = fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if err != nil {
		_ = app.Close()
		return nil, err
	}

	return r, nil
}
