package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPolarSignature(t *testing.T) {
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_1","type":"order.created"}`)

	t.Run("Valid signature", func(t *testing.T) {
		sig := signPayload(payload, secret)
		assert.NoError(t, VerifyPolarSignature(payload, sig, secret))
	})

	t.Run("Valid with sha256 prefix", func(t *testing.T) {
		sig := "sha256=" + signPayload(payload, secret)
		assert.NoError(t, VerifyPolarSignature(payload, sig, secret))
	})

	t.Run("Valid with surrounding whitespace", func(t *testing.T) {
		sig := "  " + signPayload(payload, secret) + "\n"
		assert.NoError(t, VerifyPolarSignature(payload, sig, secret))
	})

	t.Run("Missing signature", func(t *testing.T) {
		assert.ErrorIs(t, VerifyPolarSignature(payload, "", secret), ErrMissingSignature)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		sig := signPayload(payload, "other_secret")
		assert.ErrorIs(t, VerifyPolarSignature(payload, sig, secret), ErrInvalidSignature)
	})

	t.Run("Single byte payload mutation", func(t *testing.T) {
		sig := signPayload(payload, secret)
		mutated := append([]byte{}, payload...)
		mutated[0] ^= 0x01
		assert.ErrorIs(t, VerifyPolarSignature(mutated, sig, secret), ErrInvalidSignature)
	})

	t.Run("Single byte signature mutation", func(t *testing.T) {
		sig := []byte(signPayload(payload, secret))
		if sig[0] == '0' {
			sig[0] = '1'
		} else {
			sig[0] = '0'
		}
		assert.ErrorIs(t, VerifyPolarSignature(payload, string(sig), secret), ErrInvalidSignature)
	})

	t.Run("Non-hex signature", func(t *testing.T) {
		assert.ErrorIs(t, VerifyPolarSignature(payload, "not-hex!", secret), ErrInvalidSignature)
	})

	t.Run("Truncated signature", func(t *testing.T) {
		sig := signPayload(payload, secret)
		require.Greater(t, len(sig), 10)
		assert.ErrorIs(t, VerifyPolarSignature(payload, sig[:10], secret), ErrInvalidSignature)
	})
}
