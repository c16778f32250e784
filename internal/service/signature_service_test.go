package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := `1760745600.{"type":"giftcard.redeemed","balance":"70"}`

	sig := svc.Sign("whsec-merchant", payload)
	assert.Regexp(t, `^[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, svc.Sign("whsec-merchant", payload))

	assert.True(t, svc.Verify("whsec-merchant", payload, sig))
	assert.True(t, svc.Verify("whsec-merchant", payload, strings.ToUpper(sig)))
	assert.True(t, svc.Verify("whsec-merchant", payload, "sha256="+sig))
}

func TestHMACSignatureService_Rejects(t *testing.T) {
	svc := NewHMACSignatureService()
	body := `{"type":"giftcard.activated","balance":"70"}`
	sig := svc.Sign("key", "1760745600."+body)

	tests := []struct {
		name, key, payload, sig string
	}{
		{"wrong key", "other", "1760745600." + body, sig},
		{"changed body", "key", `1760745600.{"type":"giftcard.activated","balance":"700"}`, sig},
		{"replayed timestamp", "key", "1760749200." + body, sig},
		{"not hex", "key", "1760745600." + body, "invalidsignature"},
		{"truncated", "key", "1760745600." + body, sig[:32]},
		{"empty", "key", "1760745600." + body, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, svc.Verify(tc.key, tc.payload, tc.sig))
		})
	}
}
