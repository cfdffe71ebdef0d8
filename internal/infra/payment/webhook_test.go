//go:build !integration

package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/ports/adapter"
)

func TestParseWebhook(t *testing.T) {
	const secret = "sk_test_secret"
	body := []byte(`{"event":"charge.success","data":{"id":4099260516,"reference":"PAY-1740819600000-01HZX9AB","status":"success","amount":10195}}`)

	t.Run("should accept a body signed with the secret", func(t *testing.T) {
		ev, err := ParseWebhook(secret, body, Sign(secret, body))
		require.NoError(t, err)
		assert.Equal(t, adapter.EventChargeSuccess, ev.Type)
		assert.Equal(t, "PAY-1740819600000-01HZX9AB", ev.Reference)
		assert.Equal(t, "4099260516", ev.ExternalReference)
	})

	t.Run("should reject a tampered body", func(t *testing.T) {
		sig := Sign(secret, body)
		tampered := []byte(`{"event":"charge.success","data":{"id":4099260516,"reference":"PAY-1740819600000-01HZX9AB","status":"success","amount":1}}`)
		_, err := ParseWebhook(secret, tampered, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("should reject a re-encoded body", func(t *testing.T) {
		sig := Sign(secret, body)
		reformatted := []byte(`{"event": "charge.success", "data": {"id": 4099260516, "reference": "PAY-1740819600000-01HZX9AB", "status": "success", "amount": 10195}}`)
		_, err := ParseWebhook(secret, reformatted, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("should reject missing, malformed or foreign signatures", func(t *testing.T) {
		for name, sig := range map[string]string{
			"empty":        "",
			"not hex":      "zzzz",
			"other secret": Sign("another", body),
		} {
			_, err := ParseWebhook(secret, body, sig)
			assert.ErrorIs(t, err, domain.ErrInvalidSignature, name)
		}
	})

	t.Run("should never accept when no secret is configured", func(t *testing.T) {
		_, err := ParseWebhook("", body, Sign("", body))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("should report a signed but undecodable body as a plain error", func(t *testing.T) {
		bad := []byte(`not json`)
		_, err := ParseWebhook(secret, bad, Sign(secret, bad))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrInvalidSignature)
	})
}
