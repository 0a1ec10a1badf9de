package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/testcontainers"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()

	dsn := testcontainers.PostgresDSN(t)
	ctx := context.Background()

	runner := NewMigrationRunner(dsn, zap.NewNop())
	require.NoError(t, runner.RunMigrations(ctx))

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE listings, credit_balances, credit_transactions, webhook_events`)
	require.NoError(t, err)

	return NewStore(pool), pool
}

func newDraft(userID string, tier models.PricingTier) *models.Listing {
	return &models.Listing{
		ID:            uuid.NewString(),
		UserID:        userID,
		PostType:      models.PostTypeJob,
		Title:         "Nail technician wanted",
		Status:        models.ListingStatusDraft,
		PricingTier:   tier,
		PaymentStatus: models.PaymentStatusPending,
		AutoRenew:     true,
	}
}

func TestStore(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	t.Run("LedgerCreditAndDebit", func(t *testing.T) {
		user := uuid.NewString()

		bal, err := store.Ledger().Balance(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(0), bal)

		bal, err = store.Ledger().Credit(ctx, user, 5, "test:credit")
		require.NoError(t, err)
		assert.Equal(t, int64(5), bal)

		bal, err = store.Ledger().Debit(ctx, user, 3, "test:debit")
		require.NoError(t, err)
		assert.Equal(t, int64(2), bal)

		_, err = store.Ledger().Debit(ctx, user, 3, "test:debit")
		assert.ErrorIs(t, err, models.ErrInsufficientCredits)

		bal, err = store.Ledger().Balance(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(2), bal)

		txs, err := store.Ledger().Transactions(ctx, user, 10)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, models.TransactionDebit, txs[0].Kind)
		assert.Equal(t, int64(2), txs[0].BalanceAfter)
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		user := uuid.NewString()
		_, err := store.Ledger().Credit(ctx, user, 10, "test:seed")
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)

		for i := 0; i < 25; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := store.Ledger().Debit(ctx, user, 1, "test:race")
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else if !errors.Is(err, models.ErrInsufficientCredits) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}

		wg.Wait()

		bal, err := store.Ledger().Balance(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 10, succeeded)
		assert.Equal(t, int64(0), bal)
	})

	t.Run("ClaimIsIdempotent", func(t *testing.T) {
		ev := &models.WebhookEvent{Provider: models.ProviderStripe, EventID: "evt_" + uuid.NewString(), EventType: "checkout.session.completed"}

		claimed, err := store.Webhooks().Claim(ctx, ev)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = store.Webhooks().Claim(ctx, ev)
		require.NoError(t, err)
		assert.False(t, claimed)

		processed, err := store.Webhooks().IsProcessed(ctx, models.ProviderStripe, ev.EventID)
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("FailedSideEffectReleasesClaim", func(t *testing.T) {
		eventID := "evt_" + uuid.NewString()
		boom := errors.New("boom")

		err := store.WithinTx(ctx, func(ctx context.Context, tx models.Store) error {
			claimed, err := tx.Webhooks().Claim(ctx, &models.WebhookEvent{Provider: models.ProviderStripe, EventID: eventID})
			require.NoError(t, err)
			require.True(t, claimed)

			_, err = tx.Ledger().Credit(ctx, "rollback-user", 5, "test")
			require.NoError(t, err)

			return boom
		})
		require.ErrorIs(t, err, boom)

		processed, err := store.Webhooks().IsProcessed(ctx, models.ProviderStripe, eventID)
		require.NoError(t, err)
		assert.False(t, processed)

		bal, err := store.Ledger().Balance(ctx, "rollback-user")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bal)
	})

	t.Run("ActivateOnlyFromDraft", func(t *testing.T) {
		l := newDraft(uuid.NewString(), models.TierGold)
		require.NoError(t, store.Listings().Create(ctx, l))

		now := time.Now().UTC().Truncate(time.Microsecond)

		ok, err := store.Listings().Activate(ctx, l.ID, now, l.ExpiryFrom(now))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Listings().Activate(ctx, l.ID, now.Add(time.Hour), l.ExpiryFrom(now.Add(time.Hour)))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.Listings().Get(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusActive, got.Status)
		assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, got.ExpiresAt.Equal(now.Add(30*24*time.Hour)))

		err = store.Listings().SetCheckoutSession(ctx, l.ID, "cs_late")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("GetUnknownListing", func(t *testing.T) {
		_, err := store.Listings().Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("MarkPaymentFailed", func(t *testing.T) {
		l := newDraft(uuid.NewString(), models.TierPremium)
		require.NoError(t, store.Listings().Create(ctx, l))
		require.NoError(t, store.Listings().SetCheckoutSession(ctx, l.ID, "cs_"+l.ID))

		ok, err := store.Listings().MarkPaymentFailed(ctx, l.ID, "cs_superseded")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.Listings().MarkPaymentFailed(ctx, l.ID, "cs_"+l.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.Listings().Get(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusDraft, got.Status)
		assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)
		assert.Equal(t, "cs_"+l.ID, got.StripeSessionID)
	})

	t.Run("SweepAndRenewalCandidates", func(t *testing.T) {
		_, err := pool.Exec(ctx, `TRUNCATE listings`)
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Microsecond)
		insertActive := func(tier models.PricingTier, autoRenew bool, expiresAt time.Time) string {
			l := newDraft(uuid.NewString(), tier)
			l.AutoRenew = autoRenew
			require.NoError(t, store.Listings().Create(ctx, l))
			ok, err := store.Listings().Activate(ctx, l.ID, expiresAt.Add(-time.Hour), expiresAt)
			require.NoError(t, err)
			require.True(t, ok)

			return l.ID
		}

		past := insertActive(models.TierGold, true, now.Add(-time.Minute))
		soon := insertActive(models.TierGold, true, now.Add(48*time.Hour))
		insertActive(models.TierGold, false, now.Add(24*time.Hour))
		insertActive(models.TierDiamond, true, now.Add(30*24*time.Hour))

		n, err := store.Listings().ExpireBefore(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.Listings().ExpireBefore(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		got, err := store.Listings().Get(ctx, past)
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusExpired, got.Status)

		candidates, err := store.Listings().ExpiringBetween(ctx, now, now.Add(3*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, soon, candidates[0].ID)
	})
}
