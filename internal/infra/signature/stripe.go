package signature

import (
	"github.com/stripe/stripe-go/v79/webhook"

	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.SignatureVerifier = StripeVerifier{}

// StripeVerifier validates the Stripe-Signature header (timestamped v1 MAC
// with replay tolerance) using the stripe-go webhook package.
type StripeVerifier struct{}

func (StripeVerifier) Verify(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}
	return webhook.ValidatePayload(rawBody, signatureHeader, secret) == nil
}
