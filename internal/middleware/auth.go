package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/jaydenbeard/gotham-party-one/internal/authn"
)

type contextKey string

const CustomerIDKey contextKey = "customer_id"

// AuthMiddleware resolves the caller's customer_id via the configured
// authn.Authenticator and places it on the request context.
func AuthMiddleware(authenticator authn.Authenticator, skipAuth func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipAuth != nil && skipAuth(r) {
				next.ServeHTTP(w, r)
				return
			}

			customerID, err := authenticator.Authenticate(r)
			if err != nil {
				switch {
				case errors.Is(err, authn.ErrTokenExpired):
					http.Error(w, "token expired", http.StatusUnauthorized)
				case errors.Is(err, authn.ErrMissingCustomerID), errors.Is(err, authn.ErrMissingAuthHeader):
					http.Error(w, err.Error(), http.StatusBadRequest)
				default:
					http.Error(w, "invalid credentials", http.StatusUnauthorized)
				}
				return
			}

			ctx := context.WithValue(r.Context(), CustomerIDKey, customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCustomerID extracts the authenticated customer_id from the request context.
func GetCustomerID(ctx context.Context) (string, bool) {
	customerID, ok := ctx.Value(CustomerIDKey).(string)
	return customerID, ok
}
