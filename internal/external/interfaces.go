package external

import (
	"context"

	"campaignfund/internal/types"
)

// OrderCreator abstracts the gateway's order API.
type OrderCreator interface {
	CreateOrder(ctx context.Context, in OrderRequest) (*Order, error)
	// KeyID is the public key id handed to the checkout widget.
	KeyID() string
	Configured() bool
}

// SignatureVerifier abstracts webhook signature checking.
type SignatureVerifier interface {
	Verify(payload []byte, signature string, secret types.SecretString) Verification
}

// Razorpay event types.
const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
)

var _ OrderCreator = (*RazorpayClient)(nil)
