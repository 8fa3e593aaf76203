package repository

import (
	"context"
	"time"

	"payment-reconciler/internal/domain/model"
)

// -----------------------------
// Fulfillment jobs
// -----------------------------

type FulfillmentJobRepository interface {
	// Enqueue creates the job for a session; a second call for the same session is a no-op.
	Enqueue(ctx context.Context, tx Tx, job *model.FulfillmentJob) error
	// Claim leases a due job (pending/failed past next_attempt_at, or a stale
	// in_progress lease) and increments its attempt counter. ErrNotFound when
	// nothing is claimable.
	Claim(ctx context.Context, tx Tx, sessionID string, now time.Time, lease time.Duration) (*model.FulfillmentJob, error)
	MarkCompleted(ctx context.Context, tx Tx, sessionID string, at time.Time) error
	MarkFailed(ctx context.Context, tx Tx, sessionID string, state model.FulfillmentJobState, nextAttemptAt time.Time, lastErr string) error
	// Rearm resets an exhausted or failed job so it is due now.
	Rearm(ctx context.Context, tx Tx, sessionID string, now time.Time) (bool, error)
	FindBySession(ctx context.Context, tx Tx, sessionID string) (*model.FulfillmentJob, error)
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.FulfillmentJob, error)
	ListByState(ctx context.Context, tx Tx, states []model.FulfillmentJobState, limit int) ([]*model.FulfillmentJob, error)
}
