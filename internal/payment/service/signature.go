// Package service implements webhook signature verification.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureVerifier checks provider webhook signatures.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) bool
}

// HMACVerifier verifies hex-encoded HMAC-SHA256 signatures computed over the
// raw request body with the shared webhook secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a new HMACVerifier.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign computes the signature for a payload. Used by tests and local tooling.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature in constant time.
func (v *HMACVerifier) Verify(payload []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}
