package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/ports/adapter"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "x-paystack-signature"

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the exact bytes received. The body
// must not be re-encoded before this call.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// ParseWebhook authenticates and decodes a webhook body signed with secret.
func ParseWebhook(secret string, body []byte, signature string) (*adapter.WebhookEvent, error) {
	if !VerifySignature(secret, body, signature) {
		return nil, domain.ErrInvalidSignature
	}

	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode webhook: missing event")
	}

	ev := &adapter.WebhookEvent{Type: env.Event, Raw: env.Data}
	if env.Data != nil {
		if ref, ok := env.Data["reference"].(string); ok {
			ev.Reference = ref
		}
		if id, ok := env.Data["id"]; ok && id != nil {
			ev.ExternalReference = fmt.Sprint(id)
		}
	}
	return ev, nil
}
