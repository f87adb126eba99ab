package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rewardsapp/withdrawals/internal/config"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

var errMissingSubject = errors.New("token has no subject")

// Authenticator verifies HS256 bearer tokens issued by the auth provider and
// puts the caller id and role on the request context.
type Authenticator struct {
	secret    []byte
	adminRole string
}

func NewAuthenticator(cfg *config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:    []byte(cfg.SecretKey),
		adminRole: cfg.AdminRole,
	}
}

func (a *Authenticator) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, http.StatusUnauthorized, "Authorization required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeAuthError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		userID, role, err := a.validateToken(parts[1])
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "Invalid session")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), userID, role)))
	})
}

// RequireAdmin must run after AuthMiddleware.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFromContext(r.Context()) != a.adminRole {
			writeAuthError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) validateToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", err
	}
	if !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", jwt.ErrTokenInvalidClaims
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		if legacy, ok := claims["user_id"]; ok && legacy != nil {
			userID = fmt.Sprintf("%v", legacy)
		}
	}
	if userID == "" {
		return "", "", errMissingSubject
	}

	return userID, roleFromClaims(claims), nil
}

// roleFromClaims prefers app_metadata.role, which only the service role can
// write, over the top-level role claim.
func roleFromClaims(claims jwt.MapClaims) string {
	if meta, ok := claims["app_metadata"].(map[string]any); ok {
		if role, ok := meta["role"].(string); ok && role != "" {
			return role
		}
	}
	role, _ := claims["role"].(string)
	return role
}

// UserIDFromContext returns the authenticated caller id, or "".
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// RoleFromContext returns the authenticated caller role, or "".
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// WithCaller attaches a caller identity to ctx the same way AuthMiddleware does.
func WithCaller(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
