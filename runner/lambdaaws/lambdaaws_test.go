package lambdaaws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/lifecycle"
)

type fakeSweeper struct {
	calls []time.Time
	err   error
}

func (f *fakeSweeper) Run(_ context.Context, now time.Time) (lifecycle.Result, error) {
	f.calls = append(f.calls, now)
	if f.err != nil {
		return lifecycle.Result{}, f.err
	}

	return lifecycle.Result{Expired: 2, ExpiringSoon: 1, RanAt: now}, nil
}

func TestHandler(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pinned := time.Date(2025, 5, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name   string
		input  lInput
		wantAt time.Time
	}{
		{name: "uses clock when empty", input: lInput{}, wantAt: clock},
		{name: "pinned time normalised to UTC", input: lInput{At: &pinned}, wantAt: pinned.UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeSweeper{}
			l := &lambdaAwsRunner{sweeper: fs, logger: zap.NewNop(), now: func() time.Time { return clock }}

			resp, err := l.handler(context.Background(), tt.input)
			require.NoError(t, err)

			require.Len(t, fs.calls, 1)
			assert.True(t, fs.calls[0].Equal(tt.wantAt))
			assert.Equal(t, int64(2), resp.Expired)
			assert.Equal(t, 1, resp.ExpiringSoon)
			assert.Equal(t, time.UTC, resp.RanAt.Location())
		})
	}
}

func TestHandlerError(t *testing.T) {
	boom := errors.New("db down")
	l := &lambdaAwsRunner{sweeper: &fakeSweeper{err: boom}, logger: zap.NewNop(), now: time.Now}

	_, err := l.handler(context.Background(), lInput{})
	assert.ErrorIs(t, err, boom)
}
