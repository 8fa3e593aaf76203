package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.ProviderGateway = (*StripeGateway)(nil)

// Checkout sessions must expire between 30 minutes and 24 hours out.
const (
	stripeMinExpiry = 30 * time.Minute
	stripeMaxExpiry = 24 * time.Hour
)

// StripeGateway opens Stripe Checkout sessions in payment mode.
type StripeGateway struct {
	cfg config.StripeConfig
	api *client.API
}

func NewStripeGateway(cfg config.StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	return &StripeGateway{cfg: cfg, api: client.New(cfg.SecretKey, nil)}, nil
}

func (g *StripeGateway) Provider() model.Provider { return model.ProviderStripe }

func (g *StripeGateway) CreateSession(ctx context.Context, req adapter.CreateSessionRequest) (adapter.CreateSessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.SessionID),
		CustomerEmail:     stripe.String(req.Customer.Email),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ExpiresAt:         stripe.Int64(stripeExpiry(req.ExpiresAt, time.Now()).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%s %s", req.Subject.Kind(), req.Subject.ID())),
				},
			},
		}},
	}
	params.Context = ctx
	// Provider-side idempotency: a retried create for the same session returns the same checkout.
	params.IdempotencyKey = stripe.String(req.SessionID)
	params.AddMetadata("session_id", req.SessionID)

	cs, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return adapter.CreateSessionResult{}, mapStripeError(err)
	}
	return adapter.CreateSessionResult{ExternalReference: cs.ID, CheckoutURL: cs.URL}, nil
}

func stripeExpiry(want, now time.Time) time.Time {
	switch {
	case want.Before(now.Add(stripeMinExpiry)):
		return now.Add(stripeMinExpiry + time.Minute)
	case want.After(now.Add(stripeMaxExpiry)):
		return now.Add(stripeMaxExpiry - time.Minute)
	}
	return want
}

// mapStripeError keeps stripe types out of the use cases.
func mapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("stripe unavailable (%d): %s", se.HTTPStatusCode, se.Msg)
		}
		return fmt.Errorf("stripe rejected session (%s): %s", se.Code, se.Msg)
	}
	return fmt.Errorf("stripe request: %w", err)
}
