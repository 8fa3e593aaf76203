package repository

import (
	"context"
	"time"

	"payment-reconciler/internal/domain/model"
)

// -----------------------------
// Payment sessions
// -----------------------------

type PaymentSessionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.PaymentSession) error
	// FindByID locks the row (FOR UPDATE) when tx is a transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentSession, error)
	FindByExternalReference(ctx context.Context, tx Tx, provider model.Provider, ref string) (*model.PaymentSession, error)
	// MarkPending attaches the provider reference and moves created -> pending.
	// It reports false when the session already left the created state.
	MarkPending(ctx context.Context, tx Tx, id, ref, checkoutURL string) (bool, error)
	// TransitionStatus is a conditional update guarded by the expected current status.
	TransitionStatus(ctx context.Context, tx Tx, id string, from, to model.PaymentStatus, at time.Time) (bool, error)
	UpdateFulfillmentState(ctx context.Context, tx Tx, id string, state model.FulfillmentState) error
	// ListStale returns sessions in status whose created_at is before olderThan.
	ListStale(ctx context.Context, tx Tx, status model.PaymentStatus, olderThan time.Time, limit int) ([]*model.PaymentSession, error)
}
