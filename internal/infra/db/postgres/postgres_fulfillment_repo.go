package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/repository"
)

var _ repository.FulfillmentJobRepository = (*fulfillmentJobRepo)(nil)

type fulfillmentJobRepo struct{ pool *pgxpool.Pool }

func NewFulfillmentJobRepo(pool *pgxpool.Pool) *fulfillmentJobRepo {
	return &fulfillmentJobRepo{pool: pool}
}

const jobColumns = `id, session_id, state, attempts, next_attempt_at, locked_until, last_error, created_at, updated_at`

func scanJob(row rowScanner) (*model.FulfillmentJob, error) {
	j := new(model.FulfillmentJob)
	if err := row.Scan(&j.ID, &j.SessionID, &j.State, &j.Attempts, &j.NextAttemptAt, &j.LockedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *fulfillmentJobRepo) Enqueue(ctx context.Context, tx repository.Tx, j *model.FulfillmentJob) error {
	const q = `
INSERT INTO fulfillment_jobs (id, session_id, state, attempts, next_attempt_at, last_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (session_id) DO NOTHING;`
	_, err := execSQL(ctx, r.pool, tx, q, j.ID, j.SessionID, j.State, j.Attempts, j.NextAttemptAt, j.LastError, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return mapExecErr(err)
	}
	return nil
}

// Claim takes a lease with a single conditional UPDATE so two dispatchers can
// never hold the same job.
func (r *fulfillmentJobRepo) Claim(ctx context.Context, tx repository.Tx, sessionID string, now time.Time, lease time.Duration) (*model.FulfillmentJob, error) {
	const q = `
UPDATE fulfillment_jobs
   SET state = 'in_progress',
       attempts = attempts + 1,
       locked_until = $3,
       updated_at = $2
 WHERE session_id = $1
   AND (
         (state IN ('pending','failed') AND next_attempt_at <= $2)
      OR (state = 'in_progress' AND locked_until < $2)
   )
RETURNING ` + jobColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, sessionID, now, now.Add(lease))
	if err != nil {
		return nil, err
	}
	j, err := scanJob(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return j, nil
}

func (r *fulfillmentJobRepo) MarkCompleted(ctx context.Context, tx repository.Tx, sessionID string, at time.Time) error {
	const q = `UPDATE fulfillment_jobs SET state='completed', locked_until=NULL, last_error='', updated_at=$2 WHERE session_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, sessionID, at)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *fulfillmentJobRepo) MarkFailed(ctx context.Context, tx repository.Tx, sessionID string, state model.FulfillmentJobState, nextAttemptAt time.Time, lastErr string) error {
	const q = `
UPDATE fulfillment_jobs
   SET state = $2,
       next_attempt_at = $3,
       last_error = $4,
       locked_until = NULL,
       updated_at = NOW()
 WHERE session_id = $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, sessionID, state, nextAttemptAt, lastErr)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *fulfillmentJobRepo) Rearm(ctx context.Context, tx repository.Tx, sessionID string, now time.Time) (bool, error) {
	const q = `
UPDATE fulfillment_jobs
   SET state = 'pending',
       attempts = 0,
       next_attempt_at = $2,
       locked_until = NULL,
       updated_at = $2
 WHERE session_id = $1
   AND state IN ('failed','exhausted');`
	cmd, err := execSQL(ctx, r.pool, tx, q, sessionID, now)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *fulfillmentJobRepo) FindBySession(ctx context.Context, tx repository.Tx, sessionID string) (*model.FulfillmentJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM fulfillment_jobs WHERE session_id=$1;`, sessionID)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return j, nil
}

func (r *fulfillmentJobRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.FulfillmentJob, error) {
	const q = `
SELECT ` + jobColumns + `
  FROM fulfillment_jobs
 WHERE (state IN ('pending','failed') AND next_attempt_at <= $1)
    OR (state = 'in_progress' AND locked_until < $1)
 ORDER BY next_attempt_at ASC
 LIMIT $2;`
	return r.list(ctx, tx, q, now, normLimit(limit))
}

func (r *fulfillmentJobRepo) ListByState(ctx context.Context, tx repository.Tx, states []model.FulfillmentJobState, limit int) ([]*model.FulfillmentJob, error) {
	ss := make([]string, 0, len(states))
	for _, s := range states {
		ss = append(ss, string(s))
	}
	const q = `SELECT ` + jobColumns + ` FROM fulfillment_jobs WHERE state = ANY($1) ORDER BY updated_at DESC LIMIT $2;`
	return r.list(ctx, tx, q, ss, normLimit(limit))
}

func (r *fulfillmentJobRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.FulfillmentJob, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.FulfillmentJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, j)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func normLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
