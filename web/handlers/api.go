package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/emviapp/emviapp-backend/listing"
	"github.com/emviapp/emviapp-backend/models"
	"github.com/emviapp/emviapp-backend/web/auth"
)

// CreateListing handles POST /api/v1/listings.
func (h *APIHandlers) CreateListing(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		auth.SendUnauthorized(w, "User not authenticated")
		return
	}

	var req models.CreateListingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	l, err := h.Deps.Listings.CreateDraft(r.Context(), listing.CreateDraftInput{
		UserID:      userID,
		PostType:    req.PostType,
		Title:       req.Title,
		PricingTier: req.PricingTier,
		AutoRenew:   req.AutoRenew,
	})
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	renderJSON(w, http.StatusCreated, l)
}

// GetListing handles GET /api/v1/listings/{id}.
func (h *APIHandlers) GetListing(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		auth.SendUnauthorized(w, "User not authenticated")
		return
	}

	l, err := h.Deps.Listings.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	renderJSON(w, http.StatusOK, l)
}

// PublishListing handles POST /api/v1/listings/{id}/publish. A checkout
// publish answers 202 with the hosted checkout URL.
func (h *APIHandlers) PublishListing(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		auth.SendUnauthorized(w, "User not authenticated")
		return
	}

	var req models.PublishListingRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			renderError(w, r, h.Deps.Logger, err)
			return
		}
	}

	res, err := h.Deps.Listings.Publish(r.Context(), listing.PublishInput{
		UserID:    userID,
		ListingID: mux.Vars(r)["id"],
		Method:    listing.PaymentMethod(req.Method),
	})
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	resp := models.PublishListingResponse{Listing: res.Listing, Balance: res.Balance}
	code := http.StatusOK

	if res.Checkout != nil {
		resp.CheckoutURL = res.Checkout.URL
		resp.SessionID = res.Checkout.ID
		code = http.StatusAccepted
	}

	renderJSON(w, code, resp)
}
