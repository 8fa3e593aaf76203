package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.Normalizer = KashierWebhookNormalizer{}

// KashierWebhookNormalizer handles the current signed webhook:
//
//	{"event":"pay","data":{"sessionId":"...","merchantOrderId":"...","transactionId":"...",
//	 "status":"SUCCESS","amount":"100.00","currency":"EGP"}}
type KashierWebhookNormalizer struct{}

type kashierWebhook struct {
	Event string `json:"event"`
	Data  *struct {
		SessionID       string          `json:"sessionId"`
		MerchantOrderID string          `json:"merchantOrderId"`
		TransactionID   string          `json:"transactionId"`
		Status          string          `json:"status"`
		Amount          json.RawMessage `json:"amount"`
		Currency        string          `json:"currency"`
	} `json:"data"`
}

func (KashierWebhookNormalizer) Provider() model.Provider { return model.ProviderKashier }

func (KashierWebhookNormalizer) Normalize(raw []byte) (*model.Notification, error) {
	var w kashierWebhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if w.Event == "" || w.Data == nil {
		return nil, fmt.Errorf("%w: missing event or data", domain.ErrMalformedNotification)
	}
	if w.Data.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sessionId", domain.ErrMalformedNotification)
	}

	status, err := kashierStatus(w.Event, w.Data.Status)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(w.Data.Amount, w.Data.Currency)
	if err != nil {
		return nil, err
	}

	n := &model.Notification{
		Provider:          model.ProviderKashier,
		ExternalReference: w.Data.SessionID,
		MerchantOrderID:   w.Data.MerchantOrderID,
		ProviderEventID:   w.Data.TransactionID,
		ReportedStatus:    status,
		Amount:            amount,
		Currency:          strings.ToUpper(w.Data.Currency),
		Trust:             model.TrustVerified,
	}
	n.Canonical = model.NormalizedPayload(w.Event, status, amount, n.Currency)
	return n, nil
}

func kashierStatus(event, status string) (model.PaymentStatus, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch strings.ToLower(event) {
	case "pay":
		switch status {
		case "SUCCESS", "CAPTURED":
			return model.PaymentStatusPaid, nil
		case "FAILED", "FAILURE", "DECLINED", "CANCELLED", "REJECTED":
			return model.PaymentStatusFailed, nil
		case "":
			return "", fmt.Errorf("%w: missing status", domain.ErrMalformedNotification)
		default:
			return model.PaymentStatusPending, nil
		}
	case "refund":
		if status == "SUCCESS" {
			return model.PaymentStatusRefunded, nil
		}
		return "", fmt.Errorf("%w: refund status %s", domain.ErrIgnoredEvent, status)
	default:
		return "", fmt.Errorf("%w: event %s", domain.ErrIgnoredEvent, event)
	}
}

// parseAmount accepts a JSON number or string in major units.
func parseAmount(raw json.RawMessage, currency string) (*int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil, nil
	}
	v, err := model.ToMinorUnits(s, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	return &v, nil
}
