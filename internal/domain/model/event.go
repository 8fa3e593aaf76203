package model

import "time"

type LifecycleEventType string

const (
	EventPaymentPaid          LifecycleEventType = "payment.paid"
	EventPaymentFailed        LifecycleEventType = "payment.failed"
	EventPaymentExpired       LifecycleEventType = "payment.expired"
	EventPaymentRefunded      LifecycleEventType = "payment.refunded"
	EventPaymentLateSuccess   LifecycleEventType = "payment.late_success"
	EventFulfillmentCompleted LifecycleEventType = "fulfillment.completed"
	EventFulfillmentExhausted LifecycleEventType = "fulfillment.exhausted"
)

// LifecycleEvent is published after state changes commit.
type LifecycleEvent struct {
	Type             LifecycleEventType `json:"type"`
	SessionID        string             `json:"sessionId"`
	Provider         Provider           `json:"provider"`
	Status           PaymentStatus      `json:"status"`
	FulfillmentState FulfillmentState   `json:"fulfillmentState"`
	Amount           int64              `json:"amount"`
	Currency         string             `json:"currency"`
	Reason           string             `json:"reason,omitempty"`
	OccurredAt       time.Time          `json:"occurredAt"`
}

func NewLifecycleEvent(t LifecycleEventType, s *PaymentSession, reason string) LifecycleEvent {
	return LifecycleEvent{
		Type:             t,
		SessionID:        s.ID,
		Provider:         s.Provider,
		Status:           s.Status,
		FulfillmentState: s.FulfillmentState,
		Amount:           s.Amount,
		Currency:         s.Currency,
		Reason:           reason,
		OccurredAt:       time.Now().UTC(),
	}
}

// TransitionEventType maps a status to the event announcing it, if any.
func TransitionEventType(to PaymentStatus) (LifecycleEventType, bool) {
	switch to {
	case PaymentStatusPaid:
		return EventPaymentPaid, true
	case PaymentStatusFailed:
		return EventPaymentFailed, true
	case PaymentStatusExpired:
		return EventPaymentExpired, true
	case PaymentStatusRefunded:
		return EventPaymentRefunded, true
	}
	return "", false
}
