// Package webhook verifies and applies provider callbacks.
//
// Each delivery goes received -> signature verified -> deduplicated ->
// side effect applied -> acknowledged. A failed signature check is terminal
// and an already-claimed event skips straight to acknowledged.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/archive"
	"github.com/emviapp/emviapp-backend/billing"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
)

// DefaultTolerance bounds the age of a Stripe-Signature timestamp.
const DefaultTolerance = 5 * time.Minute

const (
	eventCheckoutCompleted      stripe.EventType = "checkout.session.completed"
	eventCheckoutAsyncSucceeded stripe.EventType = "checkout.session.async_payment_succeeded"
	eventCheckoutExpired        stripe.EventType = "checkout.session.expired"
)

type StripeResult struct {
	EventID   string
	EventType string
	Outcome   billing.Outcome
}

type StripeReceiver struct {
	secret    string
	tolerance time.Duration
	fulfiller *billing.Fulfiller
	archiver  archive.Archiver
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

type StripeOption func(*StripeReceiver)

func WithTolerance(d time.Duration) StripeOption {
	return func(r *StripeReceiver) { r.tolerance = d }
}

func NewStripeReceiver(
	secret string,
	fulfiller *billing.Fulfiller,
	archiver archive.Archiver,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...StripeOption,
) *StripeReceiver {
	r := &StripeReceiver{
		secret:    secret,
		tolerance: DefaultTolerance,
		fulfiller: fulfiller,
		archiver:  archiver,
		metrics:   m,
		logger:    logger.Named("stripe_webhook"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Receive verifies payload against the Stripe-Signature header and applies
// the event at most once. The body is only parsed after verification.
func (r *StripeReceiver) Receive(ctx context.Context, payload []byte, signatureHeader string) (StripeResult, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, r.secret, r.tolerance); err != nil {
		r.count("rejected")

		if errors.Is(err, webhook.ErrTooOld) {
			return StripeResult{}, models.ErrReplayTooOld
		}

		return StripeResult{}, fmt.Errorf("%w: %v", models.ErrSignatureInvalid, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		return StripeResult{}, r.malformed(ctx, payload, fmt.Errorf("%w: unreadable event", models.ErrMalformedPayload))
	}

	res := StripeResult{EventID: event.ID, EventType: string(event.Type)}
	log := r.logger.With(zap.String("event_id", event.ID), zap.String("event_type", res.EventType))

	switch event.Type {
	case eventCheckoutCompleted, eventCheckoutAsyncSucceeded, eventCheckoutExpired:
	default:
		log.Debug("ignoring event type")
		res.Outcome = billing.OutcomeIgnored
		r.count(string(res.Outcome))

		return res, nil
	}

	sess, err := decodeSession(event)
	if err != nil {
		return StripeResult{}, r.malformed(ctx, payload, err)
	}

	// completed fires before delayed payment methods settle; the async
	// succeeded event carries the fulfillment for those.
	if event.Type == eventCheckoutCompleted && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		log.Info("checkout completed without payment yet", zap.String("session_id", sess.ID))
		res.Outcome = billing.OutcomeIgnored
		r.count(string(res.Outcome))

		return res, nil
	}

	claim := models.WebhookEvent{
		Provider:  models.ProviderStripe,
		EventID:   event.ID,
		EventType: res.EventType,
		Payload:   payload,
	}

	var fr billing.Result

	if event.Type == eventCheckoutExpired {
		fr, err = r.fulfiller.Expire(ctx, sess, claim)
	} else {
		fr, err = r.fulfiller.Complete(ctx, sess, claim)
	}

	if err != nil {
		if errors.Is(err, models.ErrMalformedPayload) {
			return StripeResult{}, r.malformed(ctx, payload, err)
		}

		r.count("error")
		log.Error("failed to apply event", zap.String("session_id", sess.ID), zap.Error(err))

		return StripeResult{}, err
	}

	res.Outcome = fr.Outcome
	r.count(string(res.Outcome))

	log.Info("event processed", zap.String("session_id", sess.ID), zap.String("outcome", string(res.Outcome)))

	return res, nil
}

func decodeSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event has no data object", models.ErrMalformedPayload)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil || sess.ID == "" {
		return nil, fmt.Errorf("%w: unreadable checkout session", models.ErrMalformedPayload)
	}

	return &sess, nil
}

// malformed archives the verified payload so it can be replayed by hand.
func (r *StripeReceiver) malformed(ctx context.Context, payload []byte, err error) error {
	r.count("malformed")

	key, archiveErr := r.archiver.Archive(ctx, string(models.ProviderStripe), "malformed", payload)
	if archiveErr != nil {
		r.logger.Error("failed to archive malformed payload", zap.Error(archiveErr))
	}

	r.logger.Warn("malformed stripe payload", zap.String("archive_key", key), zap.Error(err))

	return err
}

func (r *StripeReceiver) count(outcome string) {
	r.metrics.WebhookEvents.WithLabelValues(string(models.ProviderStripe), outcome).Inc()
}
