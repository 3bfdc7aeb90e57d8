package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACSignatureService implements ports.SignatureService the way the payment
// gateway signs webhooks: lowercase hex of HMAC-SHA256 over the raw body.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns hex(HMAC-SHA256(secret, payload)).
func (s *HMACSignatureService) Sign(secret string, payload string) string {
	return hex.EncodeToString(s.mac(secret, payload))
}

// Verify reports whether signature is the HMAC of payload under secret.
// The comparison is constant-time over the decoded digest.
func (s *HMACSignatureService) Verify(secret string, payload string, signature string) bool {
	if secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(s.mac(secret, payload), got)
}

func (s *HMACSignatureService) mac(secret, payload string) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(payload))
	return m.Sum(nil)
}
