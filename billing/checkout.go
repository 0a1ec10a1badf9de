package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/models"
	stripeapi "github.com/emviapp/emviapp-backend/stripe"
)

var ErrSessionNotPaid = fmt.Errorf("%w: checkout session is not paid", models.ErrInvalidTransition)

// Settings is satisfied by *config.Service.
type Settings interface {
	GetString(ctx context.Context, key string, defaultValue string) (string, error)
	GetInt(ctx context.Context, key string, defaultValue int) (int, error)
}

// Service is the checkout bridge between listings/credits and Stripe.
type Service struct {
	stripe    stripeapi.Client
	settings  Settings
	fulfiller *Fulfiller
	logger    *zap.Logger
}

func New(client stripeapi.Client, settings Settings, fulfiller *Fulfiller, logger *zap.Logger) *Service {
	return &Service{stripe: client, settings: settings, fulfiller: fulfiller, logger: logger.Named("billing")}
}

// CreateCreditCheckout opens a payment-mode session for a credit package.
func (s *Service) CreateCreditCheckout(ctx context.Context, userID, packageID string) (models.CheckoutSession, error) {
	if userID == "" {
		return models.CheckoutSession{}, fmt.Errorf("%w: missing user id", models.ErrInvalidInput)
	}

	pkg, ok := LookupPackage(packageID)
	if !ok {
		return models.CheckoutSession{}, fmt.Errorf("%w: unknown credit package %q", models.ErrInvalidInput, packageID)
	}

	price, err := s.settings.GetInt(ctx, packagePriceKey(pkg.ID), int(pkg.DefaultPriceCents))
	if err != nil {
		return models.CheckoutSession{}, fmt.Errorf("failed to get package price: %w", err)
	}

	meta := Metadata{UserID: userID, PostType: postTypeCredits, Credits: pkg.Credits, PackageID: pkg.ID}

	return s.create(ctx, userID, pkg.Name, int64(price), meta)
}

// CreateListingCheckout opens a session that pays for l's tier. A session
// that is still open for l is returned instead of a new one.
func (s *Service) CreateListingCheckout(ctx context.Context, l models.Listing) (models.CheckoutSession, error) {
	def, ok := defaultTierPriceCents[l.PricingTier]
	if !ok {
		return models.CheckoutSession{}, fmt.Errorf("%w: tier %s is not sold through checkout", models.ErrInvalidInput, l.PricingTier)
	}

	if open, ok, err := s.openListingSession(ctx, l); err != nil || ok {
		return open, err
	}

	price, err := s.settings.GetInt(ctx, tierPriceKey(l.PricingTier), int(def))
	if err != nil {
		return models.CheckoutSession{}, fmt.Errorf("failed to get tier price: %w", err)
	}

	meta := Metadata{
		UserID:      l.UserID,
		PostType:    string(l.PostType),
		ListingID:   l.ID,
		PricingTier: l.PricingTier,
	}

	name := fmt.Sprintf("%s %s listing", titleCase(string(l.PricingTier)), l.PostType)

	return s.create(ctx, l.UserID, name, int64(price), meta)
}

func (s *Service) openListingSession(ctx context.Context, l models.Listing) (models.CheckoutSession, bool, error) {
	if l.StripeSessionID == "" || l.PaymentStatus != models.PaymentStatusPending {
		return models.CheckoutSession{}, false, nil
	}

	sess, err := s.stripe.GetCheckoutSession(ctx, l.StripeSessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.CheckoutSession{}, false, nil
		}

		return models.CheckoutSession{}, false, err
	}

	if sess.Status != stripe.CheckoutSessionStatusOpen || sess.Metadata[metaListingID] != l.ID {
		return models.CheckoutSession{}, false, nil
	}

	s.logger.Info("reusing open checkout", zap.String("listing_id", l.ID), zap.String("session_id", sess.ID))

	return models.CheckoutSession{ID: sess.ID, URL: sess.URL}, true, nil
}

// Reconcile fetches a session and fulfills it when paid. It is safe to call
// before, after or concurrently with the webhook for the same session.
func (s *Service) Reconcile(ctx context.Context, userID, sessionID string) (Result, error) {
	if sessionID == "" {
		return Result{}, fmt.Errorf("%w: missing session id", models.ErrInvalidInput)
	}

	sess, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	if sess.Metadata[metaUserID] != userID {
		return Result{}, fmt.Errorf("%w: checkout session %s", models.ErrNotFound, sessionID)
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Result{}, ErrSessionNotPaid
	}

	res, err := s.fulfiller.Complete(ctx, sess)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("session reconciled",
		zap.String("session_id", sessionID),
		zap.String("outcome", string(res.Outcome)),
	)

	return res, nil
}

func (s *Service) create(ctx context.Context, userID, productName string, priceCents int64, meta Metadata) (models.CheckoutSession, error) {
	successURL, _ := s.settings.GetString(ctx, "stripe_success_url", "https://emvi.app/checkout/success?session_id={CHECKOUT_SESSION_ID}")
	cancelURL, _ := s.settings.GetString(ctx, "stripe_cancel_url", "https://emvi.app/checkout/cancel")
	currency, _ := s.settings.GetString(ctx, "stripe_currency", "usd")

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(productName),
					},
					UnitAmount: stripe.Int64(priceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: meta.toMap(),
	}

	sess, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.logger.Error("checkout session creation failed", zap.String("user_id", userID), zap.Error(err))
		return models.CheckoutSession{}, err
	}

	s.logger.Info("checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.String("post_type", meta.PostType),
	)

	return models.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}
