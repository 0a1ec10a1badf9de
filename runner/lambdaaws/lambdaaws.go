// Package lambdaaws runs the listing sweep as an AWS Lambda function, for
// deployments that trigger it from EventBridge instead of a worker.
package lambdaaws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/lifecycle"
	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/runner"
)

type sweeper interface {
	Run(ctx context.Context, now time.Time) (lifecycle.Result, error)
}

var _ runner.Runner = (*lambdaAwsRunner)(nil)

type lambdaAwsRunner struct {
	app     *runner.App
	sweeper sweeper
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg *runner.Config, app *runner.App) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeAwsLambda {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return &lambdaAwsRunner{
		app:     app,
		sweeper: app.Sweeper,
		logger:  app.Logger.Named("lambda"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *lambdaAwsRunner) Run(context.Context) error {
	lambda.Start(l.handler)

	return nil
}

func (l *lambdaAwsRunner) Close(context.Context) error {
	if l.app == nil {
		return nil
	}

	return l.app.Close()
}

func (l *lambdaAwsRunner) handler(ctx context.Context, input lInput) (models.SweepResponse, error) {
	now := l.now()
	if input.At != nil {
		now = input.At.UTC()
	}

	res, err := l.sweeper.Run(ctx, now)
	if err != nil {
		l.logger.Error("sweep failed", zap.Error(err))
		return models.SweepResponse{}, err
	}

	return models.SweepResponse{Expired: res.Expired, ExpiringSoon: res.ExpiringSoon, RanAt: res.RanAt}, nil
}
