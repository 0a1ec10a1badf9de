// Package ledger is the credit ledger: per-user non-negative balances,
// credited by purchases and debited by paid listings.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/cache"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
)

const (
	balanceTTL = 5 * time.Minute
	// generations outlive every balance tagged with them
	generationTTL = 2 * balanceTTL
)

var ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)

type Service struct {
	store   models.Store
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(store models.Store, c cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{store: store, cache: c, metrics: m, logger: logger.Named("ledger")}
}

// Credit adds amount to the user's balance in its own transaction.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	bal, err := s.CreditIn(ctx, s.store, userID, amount, reference)
	if err != nil {
		return 0, err
	}

	s.Invalidate(ctx, userID)

	return bal, nil
}

// Debit removes amount or fails with models.ErrInsufficientCredits.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	bal, err := s.DebitIn(ctx, s.store, userID, amount, reference)
	if err != nil {
		return 0, err
	}

	s.Invalidate(ctx, userID)

	return bal, nil
}

// CreditIn credits through tx, which may be a transaction-bound store. The
// caller invalidates the cached balance once the transaction commits.
func (s *Service) CreditIn(ctx context.Context, tx models.Store, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	bal, err := tx.Ledger().Credit(ctx, userID, amount, reference)
	s.record("credit", err)

	if err != nil {
		return 0, err
	}

	s.logger.Info("credited",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", bal),
		zap.String("reference", reference),
	)

	return bal, nil
}

// DebitIn is the transactional counterpart of Debit.
func (s *Service) DebitIn(ctx context.Context, tx models.Store, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	bal, err := tx.Ledger().Debit(ctx, userID, amount, reference)
	s.record("debit", err)

	if err != nil {
		return 0, err
	}

	s.logger.Info("debited",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", bal),
		zap.String("reference", reference),
	)

	return bal, nil
}

// Balance reads through the cache. Cache failures fall back to the store.
//
// Cached balances are tagged with the user's cache generation, read before
// the store. Invalidate starts a new generation, so a balance read from the
// store before a concurrent write commits is never served afterwards.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	key := balanceKey(userID)

	gen, genErr := s.generation(ctx, userID)
	if genErr != nil {
		s.logger.Warn("balance cache read failed", zap.String("user_id", userID), zap.Error(genErr))
	} else if bal, ok := s.cached(ctx, key, gen); ok {
		return bal, nil
	}

	bal, err := s.store.Ledger().Balance(ctx, userID)
	if err != nil {
		return 0, err
	}

	if genErr != nil {
		return bal, nil
	}

	if err := s.cache.Set(ctx, key, gen+":"+strconv.FormatInt(bal, 10), balanceTTL); err != nil {
		s.logger.Warn("balance cache write failed", zap.String("user_id", userID), zap.Error(err))
	}

	return bal, nil
}

func (s *Service) Invalidate(ctx context.Context, userID string) {
	if err := s.cache.Set(ctx, generationKey(userID), uuid.NewString(), generationTTL); err != nil {
		s.logger.Warn("balance cache generation bump failed", zap.String("user_id", userID), zap.Error(err))
	}

	if err := s.cache.Delete(ctx, balanceKey(userID)); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) record(op string, err error) {
	result := "ok"

	switch {
	case err == nil:
	case errors.Is(err, models.ErrInsufficientCredits):
		result = "insufficient"
	default:
		result = "error"
	}

	s.metrics.LedgerOperations.WithLabelValues(op, result).Inc()
}

func (s *Service) generation(ctx context.Context, userID string) (string, error) {
	gen, _, err := s.cache.Get(ctx, generationKey(userID))
	return gen, err
}

// cached returns the balance stored under key if it was tagged with gen.
func (s *Service) cached(ctx context.Context, key, gen string) (int64, bool) {
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return 0, false
	}

	tag, raw, found := strings.Cut(v, ":")
	if !found || tag != gen {
		return 0, false
	}

	bal, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return bal, true
}

func balanceKey(userID string) string {
	return "balance:" + userID
}

func generationKey(userID string) string {
	return "balance-gen:" + userID
}
