package adapter

import (
	"context"
	"time"

	"payment-reconciler/internal/domain/model"
)

type CreateSessionRequest struct {
	SessionID  string // sent as merchant order id / client reference
	Amount     int64  // minor units
	Currency   string
	Customer   model.Customer
	Subject    model.SubjectRef
	ExpiresAt  time.Time
	WebhookURL string
}

type CreateSessionResult struct {
	ExternalReference string
	CheckoutURL       string
}

// ProviderGateway is the hex port for opening hosted checkout sessions.
type ProviderGateway interface {
	Provider() model.Provider
	CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error)
}

// Normalizer turns exactly one provider payload shape into a Notification.
// Payloads the provider sends but that carry no payment outcome return
// domain.ErrIgnoredEvent; anything unparseable wraps domain.ErrMalformedNotification.
type Normalizer interface {
	Provider() model.Provider
	Normalize(raw []byte) (*model.Notification, error)
}

// SignatureVerifier authenticates a raw, unmodified request body.
type SignatureVerifier interface {
	Verify(rawBody []byte, signatureHeader, secret string) bool
}
