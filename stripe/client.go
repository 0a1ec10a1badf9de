package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/emviapp/emviapp-backend/models"
)

// Client is the part of the Stripe API the checkout bridge uses.
type Client interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// apiClient wraps a per-instance API so no package-level stripe.Key is set.
type apiClient struct {
	api *client.API
}

// NewClient creates a new Stripe client
func NewClient(apiKey string) Client {
	api := &client.API{}
	api.Init(apiKey, nil)

	return &apiClient{api: api}
}

func (c *apiClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create checkout session: %w", models.ErrUpstreamProvider, err)
	}

	return sess, nil
}

func (c *apiClient) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: checkout session %s", models.ErrNotFound, sessionID)
		}

		return nil, fmt.Errorf("%w: failed to fetch checkout session: %w", models.ErrUpstreamProvider, err)
	}

	return sess, nil
}
