package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/emviapp/emviapp-backend/cache"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Service provides access to dynamic configuration values stored in the
// system_config table. Environment variables override table values; the env
// name is the key uppercased with dots replaced by underscores.
type Service struct {
	db     DB
	cache  cache.Cache
	ttl    time.Duration
	lookup func(string) (string, bool)
}

const defaultTTL = time.Minute

func New(db DB) *Service {
	return &Service{db: db, cache: cache.NewMemory(), ttl: defaultTTL, lookup: os.LookupEnv}
}

// GetString returns a string config value.
func (s *Service) GetString(ctx context.Context, key string, defaultValue string) (string, error) {
	v, ok, err := s.get(ctx, key)
	if err != nil {
		return "", err
	}

	if !ok {
		return defaultValue, nil
	}

	return v, nil
}

// GetBool returns a boolean config value.
func (s *Service) GetBool(ctx context.Context, key string, defaultValue bool) (bool, error) {
	v, ok, err := s.get(ctx, key)
	if err != nil {
		return false, err
	}

	if !ok {
		return defaultValue, nil
	}

	return strings.EqualFold(v, "true") || v == "1", nil
}

// GetInt returns an integer config value. Unparseable values fall back to
// defaultValue.
func (s *Service) GetInt(ctx context.Context, key string, defaultValue int) (int, error) {
	v, ok, err := s.get(ctx, key)
	if err != nil {
		return 0, err
	}

	if !ok {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultValue, nil
	}

	return parsed, nil
}

// GetRequiredString returns a required value or an error if missing.
func (s *Service) GetRequiredString(ctx context.Context, key string) (string, error) {
	v, err := s.GetString(ctx, key, "")
	if err != nil || v == "" {
		return "", fmt.Errorf("missing required config: %s", key)
	}

	return v, nil
}

// Upsert writes a configuration value with associated metadata type.
func (s *Service) Upsert(ctx context.Context, key, value, typ, description string) error {
	const q = `INSERT INTO system_config (key, value, type, description, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, type = EXCLUDED.type, description = EXCLUDED.description, updated_at = NOW()`

	if _, err := s.db.Exec(ctx, q, key, value, typ, description); err != nil {
		return err
	}

	return s.cache.Delete(ctx, key)
}

func (s *Service) get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.envOverride(key); ok {
		return v, true, nil
	}

	if v, ok, _ := s.cache.Get(ctx, key); ok {
		return v, true, nil
	}

	const q = `SELECT value FROM system_config WHERE key = $1 LIMIT 1`

	var v string
	if err := s.db.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}

		return "", false, err
	}

	_ = s.cache.Set(ctx, key, v, s.ttl)

	return v, true, nil
}

func (s *Service) envOverride(key string) (string, bool) {
	envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if v, ok := s.lookup(envKey); ok && v != "" {
		return v, true
	}

	return "", false
}
