package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/models"
)

// StripeWebhook handles POST /stripe-webhook. The raw body is needed for
// signature verification, so nothing may read it before this handler.
func (h *WebhookHandlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		renderError(w, r, h.Deps.Logger, fmt.Errorf("%w: unreadable body: %w", models.ErrMalformedPayload, err))
		return
	}

	if _, err := h.Deps.Stripe.Receive(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// TwilioSMS handles POST /twilio-sms and answers with TwiML.
func (h *WebhookHandlers) TwilioSMS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := r.ParseForm(); err != nil {
		renderError(w, r, h.Deps.Logger, fmt.Errorf("%w: unreadable form: %w", models.ErrMalformedPayload, err))
		return
	}

	reply, err := h.Deps.Twilio.Receive(r.Context(), r.PostForm, r.Header.Get("X-Twilio-Signature"), h.fullURL(r))
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, reply.TwiML); err != nil {
		h.Deps.Logger.Warn("failed to write twiml", zap.Error(err))
	}
}

// fullURL rebuilds the URL Twilio requested, which is what it signs.
func (h *WebhookHandlers) fullURL(r *http.Request) string {
	if h.Deps.PublicBaseURL != "" {
		return strings.TrimRight(h.Deps.PublicBaseURL, "/") + r.URL.RequestURI()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + r.URL.RequestURI()
}
