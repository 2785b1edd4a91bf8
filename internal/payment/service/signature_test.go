package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACVerifier(t *testing.T) {
	verifier := NewHMACVerifier("whsec_test")
	payload := []byte(`{"id":"evt_1","type":"payment.confirmed"}`)

	t.Run("accepts a valid signature", func(t *testing.T) {
		assert.True(t, verifier.Verify(payload, verifier.Sign(payload)))
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		signature := verifier.Sign(payload)
		assert.False(t, verifier.Verify([]byte(`{"id":"evt_2"}`), signature))
	})

	t.Run("rejects a signature from a different secret", func(t *testing.T) {
		other := NewHMACVerifier("whsec_other")
		assert.False(t, verifier.Verify(payload, other.Sign(payload)))
	})

	t.Run("rejects malformed signatures", func(t *testing.T) {
		assert.False(t, verifier.Verify(payload, "not-hex"))
		assert.False(t, verifier.Verify(payload, ""))
	})
}
