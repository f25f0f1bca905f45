// Package identity is the boundary with the external identity provider:
// it verifies the tokens it issues and holds the display attributes of users.
package identity

import (
	"fmt"
	"time"

	"roomsync/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is a verified user.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
}

// Claims is the structure of the data stored inside the JWT.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify parses and validates the signature, issuer and expiration of a token.
// Every failure is reported as a permission error.
func (v *Verifier) Verify(token string) (Principal, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, options...)
	if err != nil {
		return Principal{}, errors.Permission("invalid token: %v", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Principal{}, errors.Permission("invalid token claims")
	}
	return Principal{UserID: claims.UserID, Email: claims.Email, DisplayName: claims.Name}, nil
}

// Issue signs a token for principal. The provider normally does this; it is
// kept for local tooling and tests.
func (v *Verifier) Issue(principal Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: principal.UserID,
		Email:  principal.Email,
		Name:   principal.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   principal.UserID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
