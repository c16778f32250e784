package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACSignatureService implements ports.SignatureService with HMAC-SHA256.
// Card event deliveries are signed over "<unix timestamp>.<body>" with the
// merchant's webhook secret.
type HMACSignatureService struct{}

func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex MAC of payload.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	return hex.EncodeToString(hmacSHA256(secretKey, payload))
}

// Verify accepts the hex MAC in either case, optionally prefixed "sha256=".
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, hmacSHA256(secretKey, payload))
}

func hmacSHA256(key, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
