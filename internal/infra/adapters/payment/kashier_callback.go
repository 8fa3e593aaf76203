package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.Normalizer = KashierCallbackNormalizer{}

// KashierCallbackNormalizer handles the deprecated unsigned callback:
//
//	{"paymentStatus":"SUCCESS","merchantOrderId":"<session id>","orderId":"<kashier session>",
//	 "amount":"100.00","currency":"EGP","transactionId":"..."}
//
// Results are reduced trust; only success and failure are honored.
type KashierCallbackNormalizer struct{}

type kashierCallback struct {
	PaymentStatus   string          `json:"paymentStatus"`
	MerchantOrderID string          `json:"merchantOrderId"`
	OrderID         string          `json:"orderId"`
	Amount          json.RawMessage `json:"amount"`
	Currency        string          `json:"currency"`
	TransactionID   string          `json:"transactionId"`
}

func (KashierCallbackNormalizer) Provider() model.Provider { return model.ProviderKashierLegacy }

func (KashierCallbackNormalizer) Normalize(raw []byte) (*model.Notification, error) {
	var c kashierCallback
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if c.PaymentStatus == "" || c.OrderID == "" {
		return nil, fmt.Errorf("%w: missing paymentStatus or orderId", domain.ErrMalformedNotification)
	}

	var status model.PaymentStatus
	switch strings.ToUpper(strings.TrimSpace(c.PaymentStatus)) {
	case "SUCCESS":
		status = model.PaymentStatusPaid
	case "FAILURE", "FAILED", "DECLINED", "CANCELLED":
		status = model.PaymentStatusFailed
	default:
		return nil, fmt.Errorf("%w: legacy status %s", domain.ErrIgnoredEvent, c.PaymentStatus)
	}

	amount, err := parseAmount(c.Amount, c.Currency)
	if err != nil {
		return nil, err
	}
	n := &model.Notification{
		Provider:          model.ProviderKashierLegacy,
		ExternalReference: c.OrderID,
		MerchantOrderID:   c.MerchantOrderID,
		ProviderEventID:   c.TransactionID,
		ReportedStatus:    status,
		Amount:            amount,
		Currency:          strings.ToUpper(c.Currency),
		Trust:             model.TrustReduced,
	}
	n.Canonical = model.NormalizedPayload("callback", status, amount, n.Currency)
	return n, nil
}
