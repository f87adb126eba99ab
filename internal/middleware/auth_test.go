package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rewardsapp/withdrawals/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(&config.AuthConfig{SecretKey: testSecret, AdminRole: "admin"})
}

func echoCaller(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"userID": UserIDFromContext(r.Context()),
		"role":   RoleFromContext(r.Context()),
	})
}

func TestAuthMiddleware(t *testing.T) {
	auth := newTestAuthenticator()
	handler := auth.AuthMiddleware(http.HandlerFunc(echoCaller))

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid supabase token", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "user-1",
			"role": "authenticated",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "user-1", body["userID"])
		assert.Equal(t, "authenticated", body["role"])
	})

	t.Run("legacy user_id claim", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "42", body["userID"])
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong signing method", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS512, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token without subject", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	auth := newTestAuthenticator()
	handler := auth.AuthMiddleware(auth.RequireAdmin(http.HandlerFunc(echoCaller)))

	t.Run("admin via app_metadata", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":          "admin-1",
			"role":         "authenticated",
			"app_metadata": map[string]any{"role": "admin"},
			"exp":          time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("regular user", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "user-1",
			"role": "authenticated",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
