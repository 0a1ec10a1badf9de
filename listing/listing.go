// Package listing implements the posting flow: draft creation and
// publishing through the free tier, credits or a Stripe checkout.
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/events"
	"github.com/emviapp/emviapp-backend/ledger"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/tlmt"
)

// PaymentMethod selects how a paid tier is paid for.
type PaymentMethod string

const (
	PaymentMethodCredits  PaymentMethod = "credits"
	PaymentMethodCheckout PaymentMethod = "checkout"
	// PaymentMethodFree is recorded for free-tier approvals.
	PaymentMethodFree PaymentMethod = "free"
)

// CheckoutCreator opens a Stripe checkout session that pays for a listing.
type CheckoutCreator interface {
	CreateListingCheckout(ctx context.Context, l models.Listing) (models.CheckoutSession, error)
}

type CreateDraftInput struct {
	UserID      string             `validate:"required,max=128"`
	PostType    models.PostType    `validate:"required,oneof=job salon"`
	Title       string             `validate:"required,max=200"`
	PricingTier models.PricingTier `validate:"required,oneof=free gold premium diamond"`
	AutoRenew   bool
}

type PublishInput struct {
	UserID    string        `validate:"required"`
	ListingID string        `validate:"required"`
	Method    PaymentMethod `validate:"omitempty,oneof=credits checkout"`
}

type PublishResult struct {
	Listing  models.Listing
	Checkout *models.CheckoutSession
	// Balance is set after a credit payment.
	Balance *int64
}

type Service struct {
	store     models.Store
	ledger    *ledger.Service
	checkout  CheckoutCreator
	publisher events.Publisher
	telemetry tlmt.Telemetry
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(
	store models.Store,
	l *ledger.Service,
	checkout CheckoutCreator,
	publisher events.Publisher,
	telemetry tlmt.Telemetry,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		ledger:    l,
		checkout:  checkout,
		publisher: publisher,
		telemetry: telemetry,
		metrics:   m,
		logger:    logger.Named("listing"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateDraft stores a new draft with payment_status pending.
func (s *Service) CreateDraft(ctx context.Context, in CreateDraftInput) (models.Listing, error) {
	in.Title = strings.TrimSpace(in.Title)

	if err := s.validate.Struct(in); err != nil {
		return models.Listing{}, multierr.Append(models.ErrInvalidInput, err)
	}

	now := s.now()
	l := models.Listing{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		PostType:      in.PostType,
		Title:         in.Title,
		Status:        models.ListingStatusDraft,
		PricingTier:   in.PricingTier,
		PaymentStatus: models.PaymentStatusPending,
		AutoRenew:     in.AutoRenew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Listings().Create(ctx, &l); err != nil {
		return models.Listing{}, err
	}

	s.logger.Info("draft created",
		zap.String("listing_id", l.ID),
		zap.String("user_id", l.UserID),
		zap.String("tier", string(l.PricingTier)),
	)

	return l, nil
}

// Get returns the listing when userID owns it. Other users get ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, id string) (models.Listing, error) {
	return s.owned(ctx, s.store.Listings(), userID, id)
}

// Publish activates a draft. Free tiers activate immediately; paid tiers
// either debit credits in the activation transaction or return a checkout
// session whose webhook activates the listing later.
func (s *Service) Publish(ctx context.Context, in PublishInput) (PublishResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return PublishResult{}, multierr.Append(models.ErrInvalidInput, err)
	}

	l, err := s.owned(ctx, s.store.Listings(), in.UserID, in.ListingID)
	if err != nil {
		return PublishResult{}, err
	}

	if l.Status != models.ListingStatusDraft {
		return PublishResult{}, fmt.Errorf("%w: listing is %s", models.ErrInvalidTransition, l.Status)
	}

	if !l.PricingTier.IsPaid() {
		return s.publishFree(ctx, in)
	}

	switch in.Method {
	case PaymentMethodCredits:
		return s.publishWithCredits(ctx, in)
	case PaymentMethodCheckout:
		return s.publishWithCheckout(ctx, l)
	default:
		return PublishResult{}, fmt.Errorf("%w: payment method required for tier %s", models.ErrInvalidInput, l.PricingTier)
	}
}

func (s *Service) publishFree(ctx context.Context, in PublishInput) (PublishResult, error) {
	var activated models.Listing

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx models.Store) error {
		var err error

		activated, err = s.activateOwned(ctx, tx, in)

		return err
	})
	if err != nil {
		return PublishResult{}, err
	}

	s.afterActivation(ctx, activated, PaymentMethodFree)

	return PublishResult{Listing: activated}, nil
}

func (s *Service) publishWithCredits(ctx context.Context, in PublishInput) (PublishResult, error) {
	var (
		activated models.Listing
		balance   int64
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx models.Store) error {
		l, err := s.owned(ctx, tx.Listings(), in.UserID, in.ListingID)
		if err != nil {
			return err
		}

		policy, _ := l.PricingTier.Policy()

		balance, err = s.ledger.DebitIn(ctx, tx, in.UserID, policy.CreditCost, "listing:"+l.ID)
		if err != nil {
			return err
		}

		activated, err = s.activate(ctx, tx, l.ID)

		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			s.logger.Info("publish rejected: insufficient credits",
				zap.String("listing_id", in.ListingID),
				zap.String("user_id", in.UserID),
			)
		}

		return PublishResult{}, err
	}

	s.ledger.Invalidate(ctx, in.UserID)
	s.afterActivation(ctx, activated, PaymentMethodCredits)

	return PublishResult{Listing: activated, Balance: &balance}, nil
}

func (s *Service) publishWithCheckout(ctx context.Context, l models.Listing) (PublishResult, error) {
	session, err := s.checkout.CreateListingCheckout(ctx, l)
	if err != nil {
		return PublishResult{}, err
	}

	if err := s.store.Listings().SetCheckoutSession(ctx, l.ID, session.ID); err != nil {
		return PublishResult{}, err
	}

	l.StripeSessionID = session.ID
	l.PaymentStatus = models.PaymentStatusPending

	s.logger.Info("checkout started",
		zap.String("listing_id", l.ID),
		zap.String("session_id", session.ID),
	)

	return PublishResult{Listing: l, Checkout: &session}, nil
}

func (s *Service) activateOwned(ctx context.Context, tx models.Store, in PublishInput) (models.Listing, error) {
	if _, err := s.owned(ctx, tx.Listings(), in.UserID, in.ListingID); err != nil {
		return models.Listing{}, err
	}

	return s.activate(ctx, tx, in.ListingID)
}

func (s *Service) activate(ctx context.Context, tx models.Store, id string) (models.Listing, error) {
	l, applied, err := ActivateDraft(ctx, tx.Listings(), id, s.now())
	if err != nil {
		return models.Listing{}, err
	}

	if !applied {
		return models.Listing{}, fmt.Errorf("%w: listing is %s", models.ErrInvalidTransition, l.Status)
	}

	return l, nil
}

func (s *Service) owned(ctx context.Context, repo models.ListingRepository, userID, id string) (models.Listing, error) {
	l, err := repo.Get(ctx, id)
	if err != nil {
		return models.Listing{}, err
	}

	if l.UserID != userID {
		return models.Listing{}, models.ErrNotFound
	}

	return l, nil
}

func (s *Service) afterActivation(ctx context.Context, l models.Listing, method PaymentMethod) {
	PublishActivated(ctx, s.publisher, s.telemetry, s.metrics, s.logger, l, string(method))
}

// PublishActivated emits the post-commit signals for an activation.
func PublishActivated(
	ctx context.Context,
	publisher events.Publisher,
	telemetry tlmt.Telemetry,
	m *metrics.Metrics,
	logger *zap.Logger,
	l models.Listing,
	method string,
) {
	m.ListingsActivated.WithLabelValues(string(l.PricingTier), method).Inc()

	logger.Info("listing activated",
		zap.String("listing_id", l.ID),
		zap.String("user_id", l.UserID),
		zap.String("tier", string(l.PricingTier)),
		zap.String("method", method),
	)

	msg := events.ListingActivated{
		ListingID:   l.ID,
		UserID:      l.UserID,
		PricingTier: string(l.PricingTier),
		Method:      method,
	}
	if l.ExpiresAt != nil {
		msg.ExpiresAt = *l.ExpiresAt
	}

	if err := publisher.Publish(ctx, events.SubjectListingActivated, msg); err != nil {
		logger.Warn("failed to publish activation", zap.String("listing_id", l.ID), zap.Error(err))
	}

	ev := tlmt.NewEvent("listing_activated", map[string]any{
		"tier":      string(l.PricingTier),
		"post_type": string(l.PostType),
		"method":    method,
	})
	if err := telemetry.Send(ctx, ev); err != nil {
		logger.Debug("telemetry send failed", zap.Error(err))
	}
}
