package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emviapp/emviapp-backend/models"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements models.Store on a pgx pool. A Store returned inside
// WithinTx routes every repository call through the same pgx.Tx.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ models.Store = (*Store)(nil)

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// Connect opens a pool and checks connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func (s *Store) Listings() models.ListingRepository {
	return &listingRepository{q: s.q}
}

func (s *Store) Ledger() models.LedgerRepository {
	return &ledgerRepository{s: s}
}

func (s *Store) Webhooks() models.WebhookRepository {
	return &webhookRepository{q: s.q}
}

// WithinTx joins an enclosing transaction when there is one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{pool: s.pool, q: tx, inTx: true})
	})
}

// atomic runs fn on a transactional querier.
func (s *Store) atomic(ctx context.Context, fn func(q querier) error) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx models.Store) error {
		return fn(tx.(*Store).q)
	})
}
