package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/models"
)

func renderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// StatusFor maps a service error to its HTTP status and client message.
// Unknown errors are reported as a bare 500.
func StatusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, models.ErrSignatureInvalid), errors.Is(err, models.ErrMalformedPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient credits: buy more credits to publish this listing"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, http.StatusText(http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrUpstreamProvider):
		return http.StatusBadGateway, "payment provider unavailable, try again"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

func renderError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code, msg := StatusFor(err)

	fields := []zap.Field{zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err)}
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Info("request rejected", fields...)
	}

	renderJSON(w, code, models.APIError{Code: code, Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}

		return fmt.Errorf("%w: invalid json body: %v", models.ErrInvalidInput, err)
	}

	return nil
}
