// Package auth guards the HTTP API. End users are authenticated by the
// upstream gateway, which forwards the user id in X-User-ID and presents a
// shared bearer key.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type ContextKey string

const (
	UserIDKey ContextKey = "user_id"

	AuthHeaderName = "Authorization"
	UserIDHeader   = "X-User-ID"
)

var ErrUnauthenticated = errors.New("user not authenticated")

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// BearerToken validates the bearer key. With no key configured every
// request is rejected.
func BearerToken(apiKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	if apiKey == "" {
		logger.Warn("no api key configured, endpoint disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				SendUnauthorized(w, "Endpoint disabled")
				return
			}

			authHeader := r.Header.Get(AuthHeaderName)
			if authHeader == "" {
				logger.Debug("missing token", zap.String("method", r.Method), zap.String("path", r.URL.Path))
				SendUnauthorized(w, "Missing authentication token")

				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				SendUnauthorized(w, "Invalid authentication token format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
				logger.Warn("invalid token", zap.String("method", r.Method), zap.String("path", r.URL.Path))
				SendUnauthorized(w, "Invalid authentication token")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser moves the gateway's X-User-ID into the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			SendUnauthorized(w, "Missing user id")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the user ID from the request context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", ErrUnauthenticated
	}

	return userID, nil
}

func SendUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: http.StatusUnauthorized, Message: message})
}
