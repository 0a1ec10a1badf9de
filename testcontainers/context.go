// Package testcontainers provides the databases integration tests run
// against. Every helper first honours an explicit DSN from the environment,
// then falls back to a Docker container, and skips the test when neither is
// available or when running with -short.
//
//	func TestStore(t *testing.T) {
//	    dsn := testcontainers.PostgresDSN(t)
//	    ...
//	}
package testcontainers

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

const defaultTimeout = 90 * time.Second

var (
	dockerOnce sync.Once
	dockerErr  error
)

// skipWithoutDocker skips t when no Docker daemon is reachable. The
// provider lookup panics when no Docker host can be found, so it runs
// under recoverPanic.
func skipWithoutDocker(t *testing.T) {
	t.Helper()

	dockerOnce.Do(func() {
		dockerErr = recoverPanic(func() error {
			provider, err := testcontainers.NewDockerProvider()
			if err != nil {
				return err
			}
			defer provider.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return provider.Health(ctx)
		})
	})

	if dockerErr != nil {
		t.Skipf("docker unavailable: %v", dockerErr)
	}
}

// recoverPanic runs fn and turns a panic into an error.
func recoverPanic(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	return fn()
}

// PostgresDSN returns PG_TEST_DSN or the DSN of a fresh container that is
// terminated when the test finishes.
func PostgresDSN(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	if dsn := os.Getenv("PG_TEST_DSN"); dsn != "" {
		return dsn
	}

	skipWithoutDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	container, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	return container.GetDSN()
}

// RedisAddr returns REDIS_TEST_ADDR or the address of a fresh container.
func RedisAddr(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		return addr
	}

	skipWithoutDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	container, err := NewRedisContainer(ctx)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	return container.GetAddress()
}
