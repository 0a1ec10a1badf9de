package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/web/auth"
)

func TestBearerToken(t *testing.T) {
	const testAPIKey = "test-api-key-123"

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("authenticated"))
	})

	tests := []struct {
		name           string
		apiKey         string
		authHeader     string
		expectedStatus int
		expectedError  string
	}{
		{name: "valid bearer token", apiKey: testAPIKey, authHeader: "Bearer " + testAPIKey, expectedStatus: http.StatusOK},
		{name: "missing authorization header", apiKey: testAPIKey, expectedStatus: http.StatusUnauthorized, expectedError: "Missing authentication token"},
		{name: "missing Bearer prefix", apiKey: testAPIKey, authHeader: testAPIKey, expectedStatus: http.StatusUnauthorized, expectedError: "Invalid authentication token format"},
		{name: "wrong prefix", apiKey: testAPIKey, authHeader: "Basic " + testAPIKey, expectedStatus: http.StatusUnauthorized, expectedError: "Invalid authentication token format"},
		{name: "incorrect API key", apiKey: testAPIKey, authHeader: "Bearer wrong-key", expectedStatus: http.StatusUnauthorized, expectedError: "Invalid authentication token"},
		{name: "empty API key rejects everything", apiKey: "", expectedStatus: http.StatusUnauthorized, expectedError: "Endpoint disabled"},
		{name: "empty API key rejects empty bearer", apiKey: "", authHeader: "Bearer ", expectedStatus: http.StatusUnauthorized, expectedError: "Endpoint disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := auth.BearerToken(tt.apiKey, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tt.authHeader != "" {
				req.Header.Set(auth.AuthHeaderName, tt.authHeader)
			}

			rec := httptest.NewRecorder()
			mw(okHandler).ServeHTTP(rec, req)

			require.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "authenticated", rec.Body.String())
				return
			}

			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp auth.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, http.StatusUnauthorized, resp.Code)
			assert.Equal(t, tt.expectedError, resp.Message)
		})
	}
}

func TestRequireUser(t *testing.T) {
	var got string

	h := auth.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		got, err = auth.GetUserID(r.Context())
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(auth.UserIDHeader, "user-42")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-42", got)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
