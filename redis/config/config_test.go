package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		opts      []Option
		wantAddr  string
		wantDB    int
		wantPass  string
		wantTLS   bool
		wantError bool
	}{
		{name: "plain url", url: "redis://localhost:6379/0", wantAddr: "localhost:6379"},
		{name: "password and db", url: "redis://:secret@cache:6380/2", wantAddr: "cache:6380", wantDB: 2, wantPass: "secret"},
		{name: "tls scheme", url: "rediss://cache.example.com:6379", wantAddr: "cache.example.com:6379", wantTLS: true},
		{name: "empty", url: "", wantError: true},
		{name: "bad scheme", url: "http://localhost:6379", wantError: true},
		{name: "bad db", url: "redis://localhost:6379/abc", wantError: true},
		{name: "too many workers", url: "redis://localhost:6379", opts: []Option{WithWorkers(1000)}, wantError: true},
		{name: "retry interval too short", url: "redis://localhost:6379", opts: []Option{WithRetryInterval(time.Millisecond)}, wantError: true},
		{name: "negative retries", url: "redis://localhost:6379", opts: []Option{WithMaxRetries(-1)}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := New(tt.url, tt.opts...)
			if tt.wantError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, cfg.Addr)
			assert.Equal(t, tt.wantDB, cfg.DB)
			assert.Equal(t, tt.wantPass, cfg.Password)
			assert.Equal(t, tt.wantTLS, cfg.TLSConfig != nil)
			assert.Equal(t, defaultWorkers, cfg.Workers)
			assert.Equal(t, DefaultQueuePriorities, cfg.QueuePriorities)

			opt := cfg.ClientOpt()
			assert.Equal(t, cfg.Addr, opt.Addr)
			assert.Equal(t, cfg.DB, opt.DB)
		})
	}
}

func TestQueuePrioritiesAreCopied(t *testing.T) {
	cfg, err := New("redis://localhost:6379")
	require.NoError(t, err)

	cfg.QueuePriorities["critical"] = 100
	assert.Equal(t, 6, DefaultQueuePriorities["critical"])
}
