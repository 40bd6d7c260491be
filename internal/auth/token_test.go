package auth

import (
	"testing"
	"time"

	commonerrors "agrichat-backend/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func assertCode(t *testing.T, err error, code commonerrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	std := commonerrors.AsStandard(err)
	assert.Equal(t, code, std.Code)
}

func TestVerifyHeader_ValidToken(t *testing.T) {
	verifier := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"id":   "farmer-1",
		"role": "farmer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.VerifyHeader("Bearer " + token)

	require.NoError(t, err)
	assert.Equal(t, "farmer-1", identity.UserID)
	assert.Equal(t, "farmer", identity.Role)
}

func TestVerifyHeader_Rejections(t *testing.T) {
	verifier := NewVerifier(testSecret)

	tests := []struct {
		name     string
		header   string
		wantCode commonerrors.ErrorCode
	}{
		{
			name:     "empty header",
			header:   "",
			wantCode: commonerrors.ErrCodeAuthTokenMissing,
		},
		{
			name:     "no bearer prefix",
			header:   signToken(t, testSecret, jwt.MapClaims{"id": "u"}),
			wantCode: commonerrors.ErrCodeAuthTokenMissing,
		},
		{
			name:     "garbage token",
			header:   "Bearer not.a.token",
			wantCode: commonerrors.ErrCodeAuthTokenInvalid,
		},
		{
			name: "wrong secret",
			header: "Bearer " + signToken(t, "some-other-secret", jwt.MapClaims{
				"id": "farmer-1",
			}),
			wantCode: commonerrors.ErrCodeAuthTokenInvalid,
		},
		{
			name: "expired token",
			header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{
				"id":  "farmer-1",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantCode: commonerrors.ErrCodeAuthTokenInvalid,
		},
		{
			name: "missing id claim",
			header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{
				"sub": "farmer-1",
			}),
			wantCode: commonerrors.ErrCodeAuthTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.VerifyHeader(tt.header)
			assertCode(t, err, tt.wantCode)
		})
	}
}

func TestVerify_RejectsNonHMACAlgorithm(t *testing.T) {
	verifier := NewVerifier(testSecret)

	// alg=none style tokens must never pass, whatever the payload says.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "farmer-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, verr := verifier.Verify(signed)
	assertCode(t, verr, commonerrors.ErrCodeAuthTokenInvalid)
}
