// Package tasks defines the asynq tasks run by the worker.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/lifecycle"
)

// TaskHandler handles processing of Redis tasks
type TaskHandler interface {
	ProcessTask(ctx context.Context, task *asynq.Task) error
}

// Sweeper is satisfied by *lifecycle.Sweeper.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (lifecycle.Result, error)
}

// Handler implements TaskHandler.
type Handler struct {
	sweeper     Sweeper
	logger      *zap.Logger
	taskTimeout time.Duration
	now         func() time.Time
}

// HandlerOption is a function that configures a Handler
type HandlerOption func(*Handler)

// WithTaskTimeout sets the timeout for task processing
func WithTaskTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.taskTimeout = timeout
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(sweeper Sweeper, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		sweeper:     sweeper,
		logger:      logger.Named("tasks"),
		taskTimeout: 2 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ProcessTask processes a task based on its type
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()

	switch task.Type() {
	case TypeListingSweep:
		return h.processSweep(ctx, task)
	case TypeHealthCheck, TypeConnectionTest:
		return nil
	default:
		return fmt.Errorf("unknown task type: %s: %w", task.Type(), asynq.SkipRetry)
	}
}

func (h *Handler) processSweep(ctx context.Context, task *asynq.Task) error {
	var payload SweepPayload

	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid sweep payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	now := payload.At
	if now.IsZero() {
		now = h.now()
	}

	res, err := h.sweeper.Run(ctx, now)
	if err != nil {
		return fmt.Errorf("listing sweep failed: %w", err)
	}

	h.logger.Info("sweep task done", zap.Int64("expired", res.Expired), zap.Int("expiring_soon", res.ExpiringSoon))

	return nil
}

// NewServeMux routes every known task type to h.
func (h *Handler) NewServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeListingSweep, h.ProcessTask)
	mux.HandleFunc(TypeHealthCheck, h.ProcessTask)
	mux.HandleFunc(TypeConnectionTest, h.ProcessTask)

	return mux
}

// NewSweepTask builds a listing:sweep task. A zero at sweeps at run time.
func NewSweepTask(at time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(SweepPayload{At: at})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TypeListingSweep, payload, asynq.MaxRetry(3), asynq.Queue(PriorityDefault)), nil
}
