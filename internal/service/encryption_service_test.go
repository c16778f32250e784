package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESEncryptionService_NewInvalidKey(t *testing.T) {
	_, err := NewAESEncryptionService("shortkey")
	assert.Error(t, err)

	_, err = NewAESEncryptionService("abcd")
	assert.Error(t, err, "valid hex but wrong length")
}

func TestAESEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	secret := "whsec_4f3c2a"
	sealed, err := svc.Encrypt(secret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1."))
	assert.NotContains(t, sealed, secret)

	opened, err := svc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)
}

func TestAESEncryptionService_FreshNoncePerCall(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	c1, err := svc.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	c2, err := svc.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestAESEncryptionService_Rejects(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	other, err := NewAESEncryptionService("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	require.NoError(t, err)

	sealed, err := svc.Encrypt("secret")
	require.NoError(t, err)

	mid := len(sealed) / 2
	flip := byte('A')
	if sealed[mid] == 'A' {
		flip = 'B'
	}
	tampered := sealed[:mid] + string(flip) + sealed[mid+1:]

	tests := []struct {
		name  string
		svc   *AESEncryptionService
		input string
	}{
		{"wrong key", other, sealed},
		{"tampered", svc, tampered},
		{"missing version", svc, strings.TrimPrefix(sealed, "v1.")},
		{"not base64", svc, "v1.***"},
		{"too short", svc, "v1.AAAA"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.svc.Decrypt(tc.input)
			assert.Error(t, err)
		})
	}
}
