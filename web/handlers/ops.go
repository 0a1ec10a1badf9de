package handlers

import (
	"net/http"
	"time"

	"github.com/emviapp/emviapp-backend/models"
)

// Health responds with service and database health info.
func (h *OpsHandlers) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "not_configured"

	if h.Deps.Ping != nil {
		if err := h.Deps.Ping(r.Context()); err != nil {
			dbStatus = "unhealthy"
		} else {
			dbStatus = "healthy"
		}
	}

	response := map[string]any{
		"status":    "healthy",
		"service":   "emviapp-backend",
		"timestamp": time.Now().UTC(),
		"checks": map[string]string{
			"database": dbStatus,
			"server":   "healthy",
		},
	}

	if dbStatus == "unhealthy" {
		response["status"] = "unhealthy"
		renderJSON(w, http.StatusServiceUnavailable, response)

		return
	}

	renderJSON(w, http.StatusOK, response)
}

// Sweep handles POST /listing-sweep.
func (h *OpsHandlers) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Deps.Sweeper.Run(r.Context(), time.Now().UTC())
	if err != nil {
		renderError(w, r, h.Deps.Logger, err)
		return
	}

	renderJSON(w, http.StatusOK, models.SweepResponse{Expired: res.Expired, ExpiringSoon: res.ExpiringSoon, RanAt: res.RanAt})
}
