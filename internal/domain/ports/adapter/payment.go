package adapter

import (
	"context"
)

// Gateway event types the reconciliation path understands.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Channel restricts which payment channels the hosted checkout offers.
type Channel string

const (
	ChannelCard        Channel = "card"
	ChannelMobileMoney Channel = "mobile_money"
)

// Split routes part of a charge to the merchant sub-account and keeps the
// platform share on the main account.
type Split struct {
	Subaccount         string
	PlatformShareMinor int64 // flat amount kept by the platform, in minor units
	Bearer             string
}

// CheckoutRequest describes a hosted-checkout initialization.
type CheckoutRequest struct {
	Email       string
	AmountMinor int64 // checkout amount (price + gateway fee) in minor units
	Currency    string
	Reference   string
	CallbackURL string
	Channels    []Channel
	Metadata    map[string]any
	Split       *Split
}

// CheckoutSession is what the payer needs to complete the hosted checkout.
type CheckoutSession struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
	Reference        string `json:"reference"`
}

// VerifyResult is the gateway's view of a charge.
type VerifyResult struct {
	Reference         string
	Status            string // provider status, e.g. success, failed, abandoned
	Paid              bool
	ExternalReference string // provider-side transaction id
	AmountMinor       int64
	Raw               map[string]any
}

// WebhookEvent is a signature-checked gateway notification.
type WebhookEvent struct {
	Type              string
	Reference         string
	ExternalReference string
	Raw               map[string]any
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string

	// Initialize opens a hosted checkout for req.Reference.
	Initialize(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// Verify asks the provider for the current state of reference.
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	// ParseWebhook authenticates rawBody against signature and decodes it.
	// It returns domain.ErrInvalidSignature when the signature does not match.
	ParseWebhook(rawBody []byte, signature string) (*WebhookEvent, error)
}
