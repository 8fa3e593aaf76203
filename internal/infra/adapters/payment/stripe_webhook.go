package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.Normalizer = StripeWebhookNormalizer{}

// StripeWebhookNormalizer maps Checkout Session events. Other event types
// are acknowledged and ignored.
type StripeWebhookNormalizer struct{}

func (StripeWebhookNormalizer) Provider() model.Provider { return model.ProviderStripe }

func (StripeWebhookNormalizer) Normalize(raw []byte) (*model.Notification, error) {
	var ev stripe.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", domain.ErrMalformedNotification)
	}
	if !strings.HasPrefix(string(ev.Type), "checkout.session.") {
		return nil, fmt.Errorf("%w: %s", domain.ErrIgnoredEvent, ev.Type)
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", domain.ErrMalformedNotification)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", domain.ErrMalformedNotification, err)
	}
	if cs.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", domain.ErrMalformedNotification)
	}

	var status model.PaymentStatus
	switch ev.Type {
	case "checkout.session.completed":
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			status = model.PaymentStatusPaid
		} else {
			status = model.PaymentStatusPending // async method still settling
		}
	case "checkout.session.async_payment_succeeded":
		status = model.PaymentStatusPaid
	case "checkout.session.async_payment_failed":
		status = model.PaymentStatusFailed
	case "checkout.session.expired":
		status = model.PaymentStatusExpired
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrIgnoredEvent, ev.Type)
	}

	var amount *int64
	if cs.AmountTotal > 0 {
		a := cs.AmountTotal
		amount = &a
	}
	n := &model.Notification{
		Provider:          model.ProviderStripe,
		ExternalReference: cs.ID,
		MerchantOrderID:   cs.ClientReferenceID,
		ProviderEventID:   ev.ID,
		ReportedStatus:    status,
		Amount:            amount,
		Currency:          strings.ToUpper(string(cs.Currency)),
		Trust:             model.TrustVerified,
	}
	n.Canonical = model.NormalizedPayload(string(ev.Type), status, amount, n.Currency)
	return n, nil
}
