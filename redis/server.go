package redis

import (
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/redis/config"
	"github.com/emviapp/emviapp-backend/redis/tasks"
)

// Server processes queued tasks and, when a cron spec is registered,
// enqueues the periodic sweep.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	logger    *zap.Logger
	mu        sync.Mutex
	started   bool
}

func NewServer(cfg *config.RedisConfig, logger *zap.Logger) *Server {
	logger = logger.Named("asynq")
	sugar := logger.Sugar()

	srv := asynq.NewServer(
		cfg.ClientOpt(),
		asynq.Config{
			Concurrency: cfg.Workers,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// exponential backoff capped at the retry interval
				delay := time.Duration(1<<uint(n)) * time.Second
				if delay > cfg.RetryInterval {
					delay = cfg.RetryInterval
				}

				logger.Warn("task failed, retrying",
					zap.String("task", task.Type()),
					zap.Int("attempt", n),
					zap.Duration("delay", delay),
					zap.Error(err),
				)

				return delay
			},
			Queues:         cfg.QueuePriorities,
			StrictPriority: true,
			Logger:         sugar,
		},
	)

	scheduler := asynq.NewScheduler(cfg.ClientOpt(), &asynq.SchedulerOpts{
		Logger:   sugar,
		Location: time.UTC,
	})

	return &Server{server: srv, scheduler: scheduler, logger: logger}
}

// ScheduleSweep registers the periodic listing sweep.
func (s *Server) ScheduleSweep(cronSpec string) error {
	task, err := tasks.NewSweepTask(time.Time{})
	if err != nil {
		return err
	}

	id, err := s.scheduler.Register(cronSpec, task, asynq.Unique(sweepUniqueTTL))
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", cronSpec, err)
	}

	s.logger.Info("sweep scheduled", zap.String("cron", cronSpec), zap.String("entry_id", id))

	return nil
}

// Start begins processing with mux and starts the scheduler.
func (s *Server) Start(mux *asynq.ServeMux) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	s.started = true

	return nil
}

// Shutdown stops the scheduler first so no new sweep is queued while the
// server drains.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.scheduler.Shutdown()
	s.server.Shutdown()
	s.started = false
}
