// Package auth adapts the external identity provider to the service.
// It verifies the JWTs the provider mints and threads the resulting actor
// through request context; it never issues credentials itself.
package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tatibku/tatibku/internal/shared"
)

// Claims mirrors the token payload issued by the identity provider.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against the shared HMAC secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier constructs a Verifier.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the token, returning the actor it names.
func (v *Verifier) Verify(tokenString string) (*shared.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}

	actorID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || actorID <= 0 {
		return nil, fmt.Errorf("%w: token subject is not an actor id", shared.ErrUnauthorized)
	}

	return &shared.Actor{ID: actorID, Name: claims.Name, Role: claims.Role}, nil
}
