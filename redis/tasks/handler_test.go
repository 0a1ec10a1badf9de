package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/lifecycle"
)

type fakeSweeper struct {
	calls []time.Time
	err   error
	block bool
}

func (f *fakeSweeper) Run(ctx context.Context, now time.Time) (lifecycle.Result, error) {
	f.calls = append(f.calls, now)

	if f.block {
		<-ctx.Done()
		return lifecycle.Result{}, ctx.Err()
	}

	if f.err != nil {
		return lifecycle.Result{}, f.err
	}

	return lifecycle.Result{Expired: 2, ExpiringSoon: 1, RanAt: now}, nil
}

func TestProcessSweep(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("zero payload sweeps now", func(t *testing.T) {
		s := &fakeSweeper{}
		h := NewHandler(s, zap.NewNop(), WithClock(func() time.Time { return fixed }))

		task, err := NewSweepTask(time.Time{})
		require.NoError(t, err)
		require.NoError(t, h.ProcessTask(context.Background(), task))
		assert.Equal(t, []time.Time{fixed}, s.calls)
	})

	t.Run("explicit time", func(t *testing.T) {
		s := &fakeSweeper{}
		h := NewHandler(s, zap.NewNop())
		at := fixed.Add(-time.Hour)

		task, err := NewSweepTask(at)
		require.NoError(t, err)
		require.NoError(t, h.ProcessTask(context.Background(), task))
		require.Len(t, s.calls, 1)
		assert.True(t, at.Equal(s.calls[0]))
	})

	t.Run("empty payload", func(t *testing.T) {
		s := &fakeSweeper{}
		h := NewHandler(s, zap.NewNop())

		require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TypeListingSweep, nil)))
		assert.Len(t, s.calls, 1)
	})

	t.Run("failure is retried", func(t *testing.T) {
		boom := errors.New("db down")
		h := NewHandler(&fakeSweeper{err: boom}, zap.NewNop())

		task, err := NewSweepTask(time.Time{})
		require.NoError(t, err)

		err = h.ProcessTask(context.Background(), task)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload is not retried", func(t *testing.T) {
		h := NewHandler(&fakeSweeper{}, zap.NewNop())

		err := h.ProcessTask(context.Background(), asynq.NewTask(TypeListingSweep, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("timeout", func(t *testing.T) {
		h := NewHandler(&fakeSweeper{block: true}, zap.NewNop(), WithTaskTimeout(10*time.Millisecond))

		err := h.ProcessTask(context.Background(), asynq.NewTask(TypeListingSweep, nil))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestProcessTaskTypes(t *testing.T) {
	h := NewHandler(&fakeSweeper{}, zap.NewNop())

	assert.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TypeHealthCheck, nil)))
	assert.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TypeConnectionTest, nil)))
	assert.ErrorIs(t, h.ProcessTask(context.Background(), asynq.NewTask("scrape:gmaps", nil)), asynq.SkipRetry)
}

func TestNewSweepTask(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	task, err := NewSweepTask(at)
	require.NoError(t, err)
	assert.Equal(t, TypeListingSweep, task.Type())

	var p SweepPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.True(t, at.Equal(p.At))
}
