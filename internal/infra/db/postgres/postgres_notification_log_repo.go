package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/repository"
)

var _ repository.NotificationEventRepository = (*notificationEventRepo)(nil)

type notificationEventRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationEventRepo(pool *pgxpool.Pool) repository.NotificationEventRepository {
	return &notificationEventRepo{pool: pool}
}

const insertNotificationEvent = `
INSERT INTO notification_events (
  id, dedupe_key, provider, session_id, external_reference, provider_event_id,
  reported_status, raw_payload_digest, outcome, detail, received_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

// RecordIfNew leans on the UNIQUE constraint on dedupe_key: the insert and
// the existence check are the same statement, so concurrent deliveries of
// one event cannot both win.
func (r *notificationEventRepo) RecordIfNew(ctx context.Context, tx repository.Tx, ev *model.NotificationEvent) (bool, error) {
	if ev.DedupeKey == "" {
		return false, domain.ErrInvalidArgument
	}
	cmd, err := execSQL(ctx, r.pool, tx, insertNotificationEvent+` ON CONFLICT (dedupe_key) DO NOTHING;`, eventArgs(ev)...)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *notificationEventRepo) Append(ctx context.Context, tx repository.Tx, ev *model.NotificationEvent) error {
	cp := *ev
	cp.DedupeKey = ""
	if _, err := execSQL(ctx, r.pool, tx, insertNotificationEvent+`;`, eventArgs(&cp)...); err != nil {
		return mapExecErr(err)
	}
	return nil
}

func eventArgs(ev *model.NotificationEvent) []interface{} {
	return []interface{}{
		ev.ID, nullIfEmpty(ev.DedupeKey), ev.Provider, nullIfEmpty(ev.SessionID), ev.ExternalReference,
		ev.ProviderEventID, ev.ReportedStatus, ev.RawPayloadDigest, ev.Outcome, ev.Detail, ev.ReceivedAt,
	}
}

func (r *notificationEventRepo) ListBySession(ctx context.Context, tx repository.Tx, sessionID string, limit int) ([]*model.NotificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, dedupe_key, provider, session_id, external_reference, provider_event_id,
       reported_status, raw_payload_digest, outcome, detail, received_at
  FROM notification_events
 WHERE session_id = $1
 ORDER BY received_at DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, sessionID, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.NotificationEvent
	for rows.Next() {
		var (
			ev       model.NotificationEvent
			key, sid *string
		)
		if err := rows.Scan(&ev.ID, &key, &ev.Provider, &sid, &ev.ExternalReference, &ev.ProviderEventID,
			&ev.ReportedStatus, &ev.RawPayloadDigest, &ev.Outcome, &ev.Detail, &ev.ReceivedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ev.DedupeKey = deref(key)
		ev.SessionID = deref(sid)
		out = append(out, &ev)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}
