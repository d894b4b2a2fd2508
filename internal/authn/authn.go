// Package authn resolves an inbound HTTP request to the customer_id that
// scopes every session store lookup and gate check.
//
// Full Cognito-style JWKS fetching and RS256 verification is the one
// genuinely out-of-scope external collaborator here: JWTAuthenticator is a
// reference HS256 implementation that a production deployment replaces with
// a JWKS-backed verifier configured via the region/pool_id/issuer/audience
// environment variables threaded through internal/config.
package authn

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jaydenbeard/gotham-party-one/internal/config"
)

var (
	ErrMissingCustomerID = errors.New("authn: x-customer-id header required")
	ErrMissingAuthHeader = errors.New("authn: authorization header required")
	ErrInvalidAuthHeader = errors.New("authn: invalid authorization header format")
	ErrTokenExpired      = errors.New("authn: token expired")
	ErrInvalidToken      = errors.New("authn: invalid token")
)

// Authenticator resolves the customer_id a request is authorized to act as.
type Authenticator interface {
	Authenticate(r *http.Request) (customerID string, err error)
}

// PassthroughAuthenticator trusts the x-customer-id header directly. This is
// the "passthrough mode" build named for local development and for
// deployments where an upstream gateway already performed authentication.
type PassthroughAuthenticator struct{}

func NewPassthroughAuthenticator() *PassthroughAuthenticator {
	return &PassthroughAuthenticator{}
}

func (p *PassthroughAuthenticator) Authenticate(r *http.Request) (string, error) {
	customerID := r.Header.Get("x-customer-id")
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	return customerID, nil
}

// Claims mirrors the sub claim the original Rocket guard read from its
// request-scoped Claims type (original_source's guarder.rs), generalized to
// a real JWT rather than the stubbed "yes"/0 values that file returned.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuthenticator validates a bearer token with HS256 and returns its sub
// claim as the customer_id. It accepts tokens signed with either the current
// or the previous JWT secret, honoring internal/config's rotation window.
type JWTAuthenticator struct{}

func NewJWTAuthenticator() *JWTAuthenticator {
	return &JWTAuthenticator{}
}

func (j *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidAuthHeader
	}
	tokenString := parts[1]

	current, previous, hasPrevious := config.GetAllActiveSecrets()

	claims, err := validateWithSecret(tokenString, current)
	if err == nil {
		return claims.Subject, nil
	}

	if hasPrevious {
		claims, err = validateWithSecret(tokenString, previous)
		if err == nil {
			return claims.Subject, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrTokenExpired
	}
	return "", ErrInvalidToken
}

func validateWithSecret(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// New builds the Authenticator named by mode ("passthrough" or "jwt").
func New(mode string) (Authenticator, error) {
	switch mode {
	case "", "passthrough":
		return NewPassthroughAuthenticator(), nil
	case "jwt":
		return NewJWTAuthenticator(), nil
	default:
		return nil, fmt.Errorf("authn: unknown auth mode %q", mode)
	}
}
