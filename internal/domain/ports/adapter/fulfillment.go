package adapter

import (
	"context"

	"payment-reconciler/internal/domain/model"
)

type GrantRequest struct {
	IdempotencyKey string // stable per session; lets the catalog drop repeats
	Subject        model.SubjectRef
	CustomerID     string
	CustomerEmail  string
}

// Fulfiller grants the purchased course or product.
type Fulfiller interface {
	GrantAccess(ctx context.Context, req GrantRequest) error
}

// CustomerResolver looks up the account behind an authenticated caller.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, userID string) (model.Customer, error)
}

// EventPublisher announces committed lifecycle changes. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.LifecycleEvent) error
	Close() error
}
