package config

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emviapp/emviapp-backend/cache"
)

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	*(dest[0].(*string)) = r.value

	return nil
}

type fakeDB struct {
	values  map[string]string
	queries int
	execErr error
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.queries++

	v, ok := f.values[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}

	return fakeRow{value: v}
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}

	f.values[args[0].(string)] = args[1].(string)

	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func newTestService(db *fakeDB, env map[string]string) *Service {
	return &Service{
		db:    db,
		cache: cache.NewMemory(),
		ttl:   defaultTTL,
		lookup: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		db   map[string]string
		env  map[string]string
		key  string
		def  int
		want int
	}{
		{name: "table value", db: map[string]string{"renewal_horizon_days": "5"}, key: "renewal_horizon_days", def: 3, want: 5},
		{name: "missing uses default", db: map[string]string{}, key: "renewal_horizon_days", def: 3, want: 3},
		{name: "env overrides table", db: map[string]string{"renewal_horizon_days": "5"}, env: map[string]string{"RENEWAL_HORIZON_DAYS": "7"}, key: "renewal_horizon_days", def: 3, want: 7},
		{name: "dots become underscores", db: map[string]string{}, env: map[string]string{"SWEEP_HORIZON_DAYS": "9"}, key: "sweep.horizon_days", def: 1, want: 9},
		{name: "garbage uses default", db: map[string]string{"renewal_horizon_days": "soon"}, key: "renewal_horizon_days", def: 3, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&fakeDB{values: tt.db}, tt.env)

			got, err := svc.GetInt(ctx, tt.key, tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServiceCachesLookups(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{values: map[string]string{"tier_gold_price_cents": "1999"}}
	svc := newTestService(db, nil)

	for i := 0; i < 3; i++ {
		v, err := svc.GetString(ctx, "tier_gold_price_cents", "")
		require.NoError(t, err)
		assert.Equal(t, "1999", v)
	}

	assert.Equal(t, 1, db.queries)

	require.NoError(t, svc.Upsert(ctx, "tier_gold_price_cents", "2499", "int", ""))

	v, err := svc.GetInt(ctx, "tier_gold_price_cents", 0)
	require.NoError(t, err)
	assert.Equal(t, 2499, v)
	assert.Equal(t, 2, db.queries)
}

func TestServiceRequiredAndErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(&fakeDB{values: map[string]string{"flag": "TRUE"}}, nil)

	_, err := svc.GetRequiredString(ctx, "missing")
	assert.Error(t, err)

	on, err := svc.GetBool(ctx, "flag", false)
	require.NoError(t, err)
	assert.True(t, on)

	failing := newTestService(&fakeDB{values: map[string]string{}, execErr: errors.New("down")}, nil)
	assert.Error(t, failing.Upsert(ctx, "k", "v", "string", ""))
}
