package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleDevice is the role required to ingest or delete images.
const RoleDevice = "device"

var (
	// ErrMissingToken indicates no credential was supplied with the request.
	ErrMissingToken = errors.New("auth: token not supplied")
	// ErrMalformedToken indicates the credential failed signature or claim checks.
	ErrMalformedToken = errors.New("auth: malformed token")
)

// Claims carries the identity asserted by a verified device token.
// Claims are only ever produced by Verifier.Verify.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IsDevice reports whether the claim carries the device role.
func (c *Claims) IsDevice() bool {
	return c.Role == RoleDevice
}

// Verifier validates bearer credentials and extracts identity claims.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a verifier for HMAC-signed tokens.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

// Verify parses and validates a token string. It is pure: no side effects,
// and failures are terminal for the calling request.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrMalformedToken
	}

	if claims.Username == "" {
		return nil, ErrMalformedToken
	}

	return claims, nil
}
