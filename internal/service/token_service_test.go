package service

import (
	"testing"
	"time"

	"giftcard-ledger/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_RoundTrip(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "giftcard-ledger")

	tests := []struct {
		name string
		mfa  bool
	}{
		{"password only", false},
		{"with second factor", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merchantID := uuid.New()
			signed, expiresAt, err := svc.Generate(ports.Session{MerchantID: merchantID, MFA: tt.mfa})
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, 2*time.Second)

			claims, err := svc.Validate(signed)
			require.NoError(t, err)
			assert.Equal(t, merchantID, claims.MerchantID)
			assert.Equal(t, tt.mfa, claims.MFA)
			assert.NotEmpty(t, claims.SessionID)
		})
	}
}

func TestJWTTokenService_RejectsNilMerchant(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "giftcard-ledger")
	_, _, err := svc.Generate(ports.Session{})
	assert.Error(t, err)
}

func TestJWTTokenService_Expired(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "giftcard-ledger")
	signed, _, err := svc.Generate(ports.Session{MerchantID: uuid.New()})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTTokenService_Rejections(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "giftcard-ledger")
	subject := uuid.NewString()

	forge := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	base := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "giftcard-ledger",
			Audience:  jwt.ClaimStrings{sessionAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	otherIssuer := base()
	otherIssuer.Issuer = "someone-else"
	otherAudience := base()
	otherAudience.Audience = jwt.ClaimStrings{"admin-api"}
	noExpiry := base()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"different secret", forge(jwt.SigningMethodHS256, []byte("another-secret"), base())},
		{"none algorithm", forge(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base())},
		{"wrong issuer", forge(jwt.SigningMethodHS256, []byte(testJWTSecret), otherIssuer)},
		{"wrong audience", forge(jwt.SigningMethodHS256, []byte(testJWTSecret), otherAudience)},
		{"missing expiry", forge(jwt.SigningMethodHS256, []byte(testJWTSecret), noExpiry)},
		{"garbage", "not.a.valid.jwt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.Error(t, err)
		})
	}
}
