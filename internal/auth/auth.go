// Package auth implements the tenant context resolver: it validates a signed
// portal credential and extracts the principal identity without any I/O.
//
// This is the only place the raw credential is inspected. Downstream
// components receive the resolved requestctx.Principal.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/porticohq/portico/internal/requestctx"
)

var (
	ErrInvalidSignature = errors.New("credential signature invalid")
	ErrExpired          = errors.New("credential expired")
	ErrMissingClaim     = errors.New("credential missing required claim")
)

// Claims holds the portal credential claims. The subject id travels in the
// registered "sub" claim; tenant and role are private claims.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Resolver verifies HS256 portal credentials against a configured secret.
type Resolver struct {
	secret []byte
}

// NewResolver creates a resolver for the given shared secret.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve validates the credential and returns the principal. Signature and
// expiry failures map to distinct sentinel errors so callers can log the
// cause, but the HTTP layer reports all of them uniformly as 401.
func (r *Resolver) Resolve(credential string) (requestctx.Principal, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return requestctx.Principal{}, ErrExpired
		default:
			return requestctx.Principal{}, ErrInvalidSignature
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return requestctx.Principal{}, ErrInvalidSignature
	}
	if claims.Subject == "" {
		return requestctx.Principal{}, ErrMissingClaim
	}
	if claims.TenantID == "" {
		return requestctx.Principal{}, ErrMissingClaim
	}
	return requestctx.Principal{
		SubjectID: claims.Subject,
		TenantID:  claims.TenantID,
		Role:      claims.Role,
	}, nil
}

// NewToken mints a portal credential for the given subject. Used by tests and
// the `portico token` command; production credentials come from the portal's
// identity issuer with the same claim layout.
func NewToken(secret []byte, subjectID, tenantID, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("no secret configured")
	}
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Role:     role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
