package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/billing"
	"github.com/emviapp/emviapp-backend/ledger"
	"github.com/emviapp/emviapp-backend/lifecycle"
	"github.com/emviapp/emviapp-backend/listing"
	"github.com/emviapp/emviapp-backend/webhook"
)

// maxBodyBytes caps webhook and API request bodies.
const maxBodyBytes = 1 << 20

// Dependencies aggregates shared services used by handlers.
type Dependencies struct {
	Logger   *zap.Logger
	Stripe   *webhook.StripeReceiver
	Twilio   *webhook.TwilioReceiver
	Listings *listing.Service
	Ledger   *ledger.Service
	Billing  *billing.Service
	Sweeper  *lifecycle.Sweeper
	// Ping reports database health; nil means not configured.
	Ping func(ctx context.Context) error
	// PublicBaseURL is the externally visible origin Twilio signs against.
	// When empty it is derived from the request.
	PublicBaseURL string
}

// HandlerGroup groups all handler categories for routing setup.
type HandlerGroup struct {
	Webhooks *WebhookHandlers
	API      *APIHandlers
	Billing  *BillingHandlers
	Ops      *OpsHandlers
}

func NewHandlerGroup(deps Dependencies) *HandlerGroup {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &HandlerGroup{
		Webhooks: &WebhookHandlers{Deps: deps},
		API:      &APIHandlers{Deps: deps},
		Billing:  &BillingHandlers{Deps: deps},
		Ops:      &OpsHandlers{Deps: deps},
	}
}

// WebhookHandlers receive provider callbacks.
type WebhookHandlers struct{ Deps Dependencies }

// APIHandlers contains routes for the authenticated listing API.
type APIHandlers struct{ Deps Dependencies }

// BillingHandlers contains credit and checkout routes.
type BillingHandlers struct{ Deps Dependencies }

// OpsHandlers serves health and the admin sweep.
type OpsHandlers struct{ Deps Dependencies }
