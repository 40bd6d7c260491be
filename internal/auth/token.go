// Package auth verifies the bearer tokens that identify tenants. Tokens are
// HS256-signed and must carry an "id" claim; everything else about the caller
// is derived from the request body.
package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	commonerrors "agrichat-backend/internal/common/errors"
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Identity is what a verified token asserts about the caller.
type Identity struct {
	UserID string
	Role   string
}

// VerifyHeader checks an Authorization header value and returns the identity
// it carries. Missing header or missing Bearer prefix yields
// AUTH_TOKEN_MISSING; an expired, malformed or mis-signed token yields
// AUTH_TOKEN_INVALID. Both map to 401 upstream.
func (v *Verifier) VerifyHeader(header string) (*Identity, error) {
	if header == "" {
		return nil, commonerrors.NewAuthTokenMissingError()
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, commonerrors.NewAuthTokenMissingError()
	}
	return v.Verify(strings.TrimSpace(raw))
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, commonerrors.NewAuthTokenInvalidError(err.Error())
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, commonerrors.NewAuthTokenInvalidError("unexpected claims shape")
	}

	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return nil, commonerrors.NewAuthTokenInvalidError("token has no id claim")
	}

	identity := &Identity{UserID: id}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	return identity, nil
}
