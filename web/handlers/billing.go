package handlers

import (
	"net/http"

	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/web/auth"
)

// GetCreditBalance handles GET /api/v1/credits/balance.
func (h *BillingHandlers) GetCreditBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		auth.SendUnauthorized(w, "User not authenticated")
		return
	}

	bal, err := h.Deps.Ledger.Balance(r.Context(), userID)
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	renderJSON(w, http.StatusOK, models.CreditBalanceResponse{UserID: userID, Balance: bal})
}

// CreateCreditCheckout handles POST /api/v1/credits/checkout.
func (h *BillingHandlers) CreateCreditCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		auth.SendUnauthorized(w, "User not authenticated")
		return
	}

	var req models.CreditCheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	sess, err := h.Deps.Billing.CreateCreditCheckout(r.Context(), userID, req.PackageID)
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	renderJSON(w, http.StatusOK, sess)
}

// Reconcile handles POST /api/v1/billing/reconcile, called by the checkout
// success page in case the webhook is late or lost.
func (h *BillingHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		auth.SendUnauthorized(w, "User not authenticated")
		return
	}

	var req models.ReconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	res, err := h.Deps.Billing.Reconcile(r.Context(), userID, req.SessionID)
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	renderJSON(w, http.StatusOK, models.ReconcileResponse{SessionID: res.SessionID, Outcome: string(res.Outcome)})
}
