package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/events"
	"github.com/emviapp/emviapp-backend/ledger"
	"github.com/emviapp/emviapp-backend/listing"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/tlmt"
)

// Outcome describes what a fulfillment did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored: the claim was recorded but there was nothing to change,
	// e.g. an unknown listing or one that is already active.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeCredited: the session paid for a listing that was already
	// published, so the tier cost went to the owner's credit balance.
	OutcomeCredited Outcome = "credited"
)

type Result struct {
	Outcome   Outcome
	SessionID string
	Metadata  Metadata
	Balance   int64
	Listing   *models.Listing
}

// Fulfiller applies the side effects of a checkout session. The webhook and
// Reconcile both go through it so a session is fulfilled at most once.
type Fulfiller struct {
	store     models.Store
	ledger    *ledger.Service
	publisher events.Publisher
	telemetry tlmt.Telemetry
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewFulfiller(
	store models.Store,
	l *ledger.Service,
	publisher events.Publisher,
	telemetry tlmt.Telemetry,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *Fulfiller {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Fulfiller{
		store:     store,
		ledger:    l,
		publisher: publisher,
		telemetry: telemetry,
		metrics:   m,
		logger:    logger.Named("fulfillment"),
		now:       now,
	}
}

// SessionClaim is the idempotency key shared by every path that fulfills sess.
func SessionClaim(sessionID string) models.WebhookEvent {
	return models.WebhookEvent{
		Provider:  models.ProviderStripeSession,
		EventID:   sessionID,
		EventType: "checkout.session.fulfilled",
	}
}

// Complete credits the ledger or activates the listing paid for by sess.
// claims are inserted, together with the session claim, in the same
// transaction as the side effect; any existing claim short-circuits.
func (f *Fulfiller) Complete(ctx context.Context, sess *stripe.CheckoutSession, claims ...models.WebhookEvent) (Result, error) {
	meta, err := ParseMetadata(sess.Metadata)
	if err != nil {
		return Result{}, err
	}

	res := Result{SessionID: sess.ID, Metadata: meta}
	claims = append(claims, SessionClaim(sess.ID))

	err = f.store.WithinTx(ctx, func(ctx context.Context, tx models.Store) error {
		fresh, err := claimAll(ctx, tx, claims)
		if err != nil || !fresh {
			res.Outcome = OutcomeDuplicate
			return err
		}

		if meta.IsCredits() {
			res.Balance, err = f.ledger.CreditIn(ctx, tx, meta.UserID, meta.Credits, "stripe:"+sess.ID)
			res.Outcome = OutcomeApplied

			return err
		}

		return f.activate(ctx, tx, meta, &res)
	})
	if err != nil {
		return Result{}, err
	}

	switch res.Outcome {
	case OutcomeApplied:
		f.afterComplete(ctx, res)
	case OutcomeCredited:
		f.ledger.Invalidate(ctx, meta.UserID)
	}

	return res, nil
}

// Expire flags the listing of an abandoned checkout as failed. The listing
// stays a draft so the owner can start a new checkout.
func (f *Fulfiller) Expire(ctx context.Context, sess *stripe.CheckoutSession, claims ...models.WebhookEvent) (Result, error) {
	meta, err := ParseMetadata(sess.Metadata)
	if err != nil {
		return Result{}, err
	}

	res := Result{SessionID: sess.ID, Metadata: meta, Outcome: OutcomeIgnored}

	err = f.store.WithinTx(ctx, func(ctx context.Context, tx models.Store) error {
		fresh, err := claimAll(ctx, tx, claims)
		if err != nil || !fresh {
			res.Outcome = OutcomeDuplicate
			return err
		}

		if meta.IsCredits() {
			return nil
		}

		applied, err := tx.Listings().MarkPaymentFailed(ctx, meta.ListingID, sess.ID)
		if applied {
			res.Outcome = OutcomeApplied
		}

		return err
	})
	if err != nil {
		return Result{}, err
	}

	if res.Outcome == OutcomeApplied {
		f.logger.Info("checkout expired",
			zap.String("session_id", sess.ID),
			zap.String("listing_id", meta.ListingID),
		)
	}

	return res, nil
}

func (f *Fulfiller) activate(ctx context.Context, tx models.Store, meta Metadata, res *Result) error {
	current, err := tx.Listings().Get(ctx, meta.ListingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			f.logger.Warn("paid session references unknown listing",
				zap.String("session_id", res.SessionID),
				zap.String("listing_id", meta.ListingID),
			)
			res.Outcome = OutcomeIgnored

			return nil
		}

		return err
	}

	if current.UserID != meta.UserID {
		return fmt.Errorf("%w: listing %s is not owned by metadata.user_id", models.ErrMalformedPayload, current.ID)
	}

	if string(current.PostType) != meta.PostType {
		return fmt.Errorf("%w: listing %s is a %s post", models.ErrMalformedPayload, current.ID, current.PostType)
	}

	if meta.PricingTier != "" && meta.PricingTier != current.PricingTier {
		return fmt.Errorf("%w: session paid for %s, listing is %s", models.ErrMalformedPayload, meta.PricingTier, current.PricingTier)
	}

	l, applied, err := listing.ActivateDraft(ctx, tx.Listings(), meta.ListingID, f.now())
	if err != nil {
		return err
	}

	res.Listing = &l

	if applied {
		res.Outcome = OutcomeApplied
		return nil
	}

	// A fresh claim on a listing that is no longer a draft means a second
	// payment for it; keep the value as credits.
	return f.creditSurplus(ctx, tx, current, res)
}

func (f *Fulfiller) creditSurplus(ctx context.Context, tx models.Store, l models.Listing, res *Result) error {
	policy, ok := l.PricingTier.Policy()
	if !ok || policy.CreditCost == 0 {
		res.Outcome = OutcomeIgnored
		return nil
	}

	balance, err := f.ledger.CreditIn(ctx, tx, l.UserID, policy.CreditCost, "stripe:"+res.SessionID+":surplus")
	if err != nil {
		return err
	}

	f.logger.Warn("listing already published, payment kept as credits",
		zap.String("session_id", res.SessionID),
		zap.String("listing_id", l.ID),
		zap.Int64("credits", policy.CreditCost),
	)

	res.Balance = balance
	res.Outcome = OutcomeCredited

	return nil
}

func (f *Fulfiller) afterComplete(ctx context.Context, res Result) {
	if res.Metadata.IsCredits() {
		f.ledger.Invalidate(ctx, res.Metadata.UserID)

		msg := events.CreditsPurchased{
			UserID:    res.Metadata.UserID,
			Credits:   res.Metadata.Credits,
			Balance:   res.Balance,
			SessionID: res.SessionID,
		}
		if err := f.publisher.Publish(ctx, events.SubjectCreditsPurchased, msg); err != nil {
			f.logger.Warn("failed to publish credit purchase", zap.String("session_id", res.SessionID), zap.Error(err))
		}

		ev := tlmt.NewEvent("credits_purchased", map[string]any{
			"credits":    res.Metadata.Credits,
			"package_id": res.Metadata.PackageID,
		})
		if err := f.telemetry.Send(ctx, ev); err != nil {
			f.logger.Debug("telemetry send failed", zap.Error(err))
		}

		return
	}

	if res.Listing != nil {
		listing.PublishActivated(ctx, f.publisher, f.telemetry, f.metrics, f.logger, *res.Listing, string(listing.PaymentMethodCheckout))
	}
}

// claimAll reports false as soon as one key was already claimed.
func claimAll(ctx context.Context, tx models.Store, claims []models.WebhookEvent) (bool, error) {
	for i := range claims {
		ok, err := tx.Webhooks().Claim(ctx, &claims[i])
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}
