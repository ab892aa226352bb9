package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Capability scopes. The chain writer's credential carries audit:write;
// every other caller is read-only. This is the service's access-control
// invariant: only the writer capability can create records, and nothing can
// modify them.
const (
	ScopeWrite = "audit:write"
	ScopeRead  = "audit:read"
)

// Authenticator validates bearer tokens and their scopes
type Authenticator struct {
	secret   []byte
	disabled bool
}

// NewAuthenticator creates a capability authenticator. When disabled, every
// request passes (dev mode only).
func NewAuthenticator(secret string, disabled bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), disabled: disabled}
}

// scopes extracts the scope claim from the request's bearer token
func (a *Authenticator) scopes(r *http.Request) ([]string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, fmt.Errorf("missing bearer token")
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	scope, _ := claims["scope"].(string)
	return strings.Fields(scope), nil
}

// RequireScope wraps a handler with a capability check
func (a *Authenticator) RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.disabled {
			next(w, r)
			return
		}

		scopes, err := a.scopes(r)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
			return
		}
		for _, s := range scopes {
			if s == scope {
				next(w, r)
				return
			}
		}
		WriteError(w, http.StatusForbidden, fmt.Sprintf("missing required scope %s", scope), "FORBIDDEN")
	}
}
