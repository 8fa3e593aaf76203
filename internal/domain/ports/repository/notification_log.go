package repository

import (
	"context"

	"payment-reconciler/internal/domain/model"
)

// -----------------------------
// Notification ledger (idempotency store)
// -----------------------------

type NotificationEventRepository interface {
	// RecordIfNew inserts ev unless its DedupeKey is already present.
	// The check and insert are a single atomic statement.
	RecordIfNew(ctx context.Context, tx Tx, ev *model.NotificationEvent) (isNew bool, err error)
	// Append stores an audit row without a dedupe key.
	Append(ctx context.Context, tx Tx, ev *model.NotificationEvent) error
	ListBySession(ctx context.Context, tx Tx, sessionID string, limit int) ([]*model.NotificationEvent, error)
}
