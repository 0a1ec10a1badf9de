package web

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // Twilio signs with HMAC-SHA1
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/archive"
	"github.com/emviapp/emviapp-backend/billing"
	"github.com/emviapp/emviapp-backend/cache"
	"github.com/emviapp/emviapp-backend/events"
	"github.com/emviapp/emviapp-backend/ledger"
	"github.com/emviapp/emviapp-backend/lifecycle"
	"github.com/emviapp/emviapp-backend/listing"
	"github.com/emviapp/emviapp-backend/memory"
	"github.com/emviapp/emviapp-backend/metrics"
	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/tlmt/gonoop"
	"github.com/emviapp/emviapp-backend/web/handlers"
	"github.com/emviapp/emviapp-backend/webhook"
)

const (
	webhookSecret = "whsec_web"
	twilioToken   = "twilio-web"
	apiKey        = "api-key"
	adminKey      = "admin-key"
	publicBase    = "https://api.emvi.app"
)

type fakeStripe struct {
	sessions map[string]*stripe.CheckoutSession
	created  int
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created++
	id := fmt.Sprintf("cs_web_%d", f.created)

	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (f *fakeStripe) GetCheckoutSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such checkout session", models.ErrNotFound)
	}

	return sess, nil
}

type defaults struct{}

func (defaults) GetString(_ context.Context, _ string, def string) (string, error) { return def, nil }

func (defaults) GetInt(_ context.Context, _ string, def int) (int, error) { return def, nil }

type fixture struct {
	handler http.Handler
	store   *memory.Store
	stripe  *fakeStripe
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return newFixtureWithConfig(t, Config{RequestTimeout: 5 * time.Second, APIKey: apiKey, AdminAPIKey: adminKey})
}

func newFixtureWithConfig(t *testing.T, cfg Config) *fixture {
	t.Helper()

	nop := zap.NewNop()
	store := memory.New()
	m := metrics.New("test")
	pub := events.NewNoop()
	tel := gonoop.New()

	l := ledger.New(store, cache.NewMemory(), m, nop)
	f := billing.NewFulfiller(store, l, pub, tel, m, nop, nil)
	fs := &fakeStripe{sessions: map[string]*stripe.CheckoutSession{}}
	bill := billing.New(fs, defaults{}, f, nop)

	deps := handlers.Dependencies{
		Logger:        nop,
		Stripe:        webhook.NewStripeReceiver(webhookSecret, f, archive.NewNoop(), m, nop),
		Twilio:        webhook.NewTwilioReceiver(twilioToken, pub, m, nop),
		Listings:      listing.New(store, l, bill, pub, tel, m, nop),
		Ledger:        l,
		Billing:       bill,
		Sweeper:       lifecycle.NewSweeper(store, defaults{}, pub, tel, m, nop),
		PublicBaseURL: publicBase,
	}

	return &fixture{handler: NewRouter(cfg, deps, m), store: store, stripe: fs}
}

func (fx *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	return rec
}

func (fx *fixture) postStripe(t *testing.T, body []byte, at time.Time) *httptest.ResponseRecorder {
	t.Helper()

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), body)

	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil))))

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	return rec
}

func creditEvent(t *testing.T, eventID, sessionID, userID string, credits int) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{
			"id":             sessionID,
			"payment_status": "paid",
			"metadata": map[string]string{
				"user_id": userID, "post_type": "credits", "credits": fmt.Sprint(credits),
			},
		}},
	})
	require.NoError(t, err)

	return body
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestHealthAndMetrics(t *testing.T) {
	fx := newFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_request_duration_seconds")
}

func TestPostingWithCredits(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/listings", "u1", models.CreateListingRequest{
		PostType: models.PostTypeJob, Title: "Nail technician", PricingTier: models.TierGold, AutoRenew: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decode[models.Listing](t, rec)
	assert.Equal(t, models.ListingStatusDraft, draft.Status)

	rec = fx.do(t, http.MethodPost, "/api/v1/listings/"+draft.ID+"/publish", "u1", models.PublishListingRequest{Method: "credits"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, decode[models.APIError](t, rec).Message, "buy more credits")

	rec = fx.postStripe(t, creditEvent(t, "evt_web_1", "cs_credit_1", "u1", 5), time.Now())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	rec = fx.do(t, http.MethodGet, "/api/v1/credits/balance", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), decode[models.CreditBalanceResponse](t, rec).Balance)

	rec = fx.do(t, http.MethodPost, "/api/v1/listings/"+draft.ID+"/publish", "u1", models.PublishListingRequest{Method: "credits"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pub := decode[models.PublishListingResponse](t, rec)
	assert.Equal(t, models.ListingStatusActive, pub.Listing.Status)
	require.NotNil(t, pub.Balance)
	assert.Equal(t, int64(4), *pub.Balance)

	rec = fx.do(t, http.MethodPost, "/api/v1/listings/"+draft.ID+"/publish", "u1", models.PublishListingRequest{Method: "credits"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/listings/"+draft.ID, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostingWithCheckout(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/listings", "u2", models.CreateListingRequest{
		PostType: models.PostTypeSalon, Title: "Salon for sale", PricingTier: models.TierPremium,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decode[models.Listing](t, rec)

	rec = fx.do(t, http.MethodPost, "/api/v1/listings/"+draft.ID+"/publish", "u2", models.PublishListingRequest{Method: "checkout"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	pub := decode[models.PublishListingResponse](t, rec)
	assert.Equal(t, "cs_web_1", pub.SessionID)
	assert.NotEmpty(t, pub.CheckoutURL)

	fx.stripe.sessions["cs_web_1"] = &stripe.CheckoutSession{
		ID:            "cs_web_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata: map[string]string{
			"user_id": "u2", "post_type": "salon", "listing_id": draft.ID, "pricing_tier": "premium",
		},
	}

	rec = fx.do(t, http.MethodPost, "/api/v1/billing/reconcile", "u2", models.ReconcileRequest{SessionID: "cs_web_1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode[models.ReconcileResponse](t, rec).Outcome)

	rec = fx.do(t, http.MethodGet, "/api/v1/listings/"+draft.ID, "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ListingStatusActive, decode[models.Listing](t, rec).Status)

	rec = fx.do(t, http.MethodPost, "/api/v1/billing/reconcile", "u2", models.ReconcileRequest{SessionID: "cs_missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIValidation(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "unknown tier", body: map[string]any{"post_type": "job", "title": "x", "pricing_tier": "platinum"}, status: http.StatusUnprocessableEntity},
		{name: "missing title", body: map[string]any{"post_type": "job", "pricing_tier": "free"}, status: http.StatusUnprocessableEntity},
		{name: "unknown field", body: map[string]any{"post_type": "job", "title": "x", "pricing_tier": "free", "price": 3}, status: http.StatusUnprocessableEntity},
		{name: "valid", body: map[string]any{"post_type": "salon", "title": "Chair rental", "pricing_tier": "free"}, status: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(t, http.MethodPost, "/api/v1/listings", "u3", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := fx.do(t, http.MethodPost, "/api/v1/credits/checkout", "u3", models.CreditCheckoutRequest{PackageID: "mega"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/credits/checkout", "u3", models.CreditCheckoutRequest{PackageID: "studio"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[models.CheckoutSession](t, rec).URL)
}

func TestAPIAuthentication(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/credits/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", http.NoBody)
	req.Header.Set("X-User-ID", "u1")

	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIDisabledWithoutKey(t *testing.T) {
	fx := newFixtureWithConfig(t, Config{RequestTimeout: 5 * time.Second})

	for _, header := range []string{"", "Bearer ", "Bearer " + apiKey} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", http.NoBody)
		req.Header.Set("X-User-ID", "u1")

		if header != "" {
			req.Header.Set("Authorization", header)
		}

		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestStripeWebhookErrors(t *testing.T) {
	fx := newFixture(t)

	body := creditEvent(t, "evt_web_2", "cs_credit_2", "u4", 5)

	rec := fx.postStripe(t, body, time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[models.APIError](t, rec).Message)

	rec = fx.postStripe(t, []byte(`{"id":`), time.Now())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.postStripe(t, body, time.Now())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = fx.postStripe(t, body, time.Now())
	assert.Equal(t, http.StatusOK, rec.Code)

	bal, err := fx.store.Ledger().Balance(context.Background(), "u4")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)
}

func TestTwilioSMS(t *testing.T) {
	fx := newFixture(t)

	form := url.Values{"From": {"+15555550100"}, "Body": {"HELP"}, "MessageSid": {"SM1"}}

	sign := func(u string) string {
		data := u + "Body" + form.Get("Body") + "From" + form.Get("From") + "MessageSid" + form.Get("MessageSid")
		mac := hmac.New(sha1.New, []byte(twilioToken))
		mac.Write([]byte(data))

		return base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}

	req := httptest.NewRequest(http.MethodPost, "/twilio-sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sign(publicBase+"/twilio-sms"))

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Message>"+webhook.ReplyHelp+"</Message>")

	req = httptest.NewRequest(http.MethodPost, "/twilio-sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sign("https://evil.example/twilio-sms"))

	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListingSweep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-31 * 24 * time.Hour)
	l := &models.Listing{ID: "old", UserID: "u5", PostType: models.PostTypeJob, Status: models.ListingStatusDraft, PricingTier: models.TierGold}
	require.NoError(t, fx.store.Listings().Create(ctx, l))
	_, err := fx.store.Listings().Activate(ctx, "old", past, l.ExpiryFrom(past))
	require.NoError(t, err)

	sweep := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/listing-sweep", http.NoBody)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)

		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, sweep("").Code)
	assert.Equal(t, http.StatusUnauthorized, sweep(apiKey).Code)

	rec := sweep(adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[models.SweepResponse](t, rec).Expired)

	rec = sweep(adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[models.SweepResponse](t, rec).Expired)
}
