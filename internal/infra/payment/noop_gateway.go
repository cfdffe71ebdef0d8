package payment

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for local development. Every
// checkout it opens is reported as paid on verify. Webhooks are checked with
// the same HMAC scheme as Paystack, keyed by secret.
type NoopPaymentGateway struct {
	secret string

	mu      sync.Mutex
	seq     int64
	intents map[string]int64 // reference -> amount (minor units)
}

func NewNoopPaymentGateway(secret string) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		secret:  secret,
		intents: make(map[string]int64),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) Initialize(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	if req.Reference == "" || req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: noop: reference and amount required", domain.ErrGateway)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.intents[req.Reference] = req.AmountMinor
	code := fmt.Sprintf("noop-%d", g.seq)

	target := "https://example.test/pay/" + code
	if req.CallbackURL != "" {
		if u, err := url.Parse(req.CallbackURL); err == nil {
			q := u.Query()
			q.Set("reference", req.Reference)
			u.RawQuery = q.Encode()
			target = u.String()
		}
	}
	return &adapter.CheckoutSession{AuthorizationURL: target, AccessCode: code, Reference: req.Reference}, nil
}

func (g *NoopPaymentGateway) Verify(ctx context.Context, reference string) (*adapter.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.intents[reference]
	if !ok {
		return &adapter.VerifyResult{Reference: reference, Status: "abandoned"}, nil
	}
	return &adapter.VerifyResult{
		Reference:         reference,
		Status:            "success",
		Paid:              true,
		ExternalReference: "noop-" + reference,
		AmountMinor:       amount,
		Raw:               map[string]any{"gateway": "noop"},
	}, nil
}

func (g *NoopPaymentGateway) ParseWebhook(rawBody []byte, signature string) (*adapter.WebhookEvent, error) {
	return ParseWebhook(g.secret, rawBody, signature)
}
