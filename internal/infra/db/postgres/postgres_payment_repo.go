package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/repository"
)

var _ repository.PaymentSessionRepository = (*paymentSessionRepo)(nil)

type paymentSessionRepo struct{ pool *pgxpool.Pool }

func NewPaymentSessionRepo(pool *pgxpool.Pool) *paymentSessionRepo {
	return &paymentSessionRepo{pool: pool}
}

const sessionColumns = `id, external_reference, provider, course_id, product_id, amount, currency,
  customer_id, customer_name, customer_email, status, fulfillment_state, checkout_url,
  created_at, updated_at, paid_at`

func scanSession(row rowScanner) (*model.PaymentSession, error) {
	var (
		s                            model.PaymentSession
		ref, course, product, custID *string
		checkout                     *string
	)
	err := row.Scan(&s.ID, &ref, &s.Provider, &course, &product, &s.Amount, &s.Currency,
		&custID, &s.Customer.Name, &s.Customer.Email, &s.Status, &s.FulfillmentState, &checkout,
		&s.CreatedAt, &s.UpdatedAt, &s.PaidAt)
	if err != nil {
		return nil, err
	}
	s.ExternalReference = deref(ref)
	s.Subject = model.SubjectRef{CourseID: deref(course), ProductID: deref(product)}
	s.Customer.ID = deref(custID)
	s.CheckoutURL = deref(checkout)
	return &s, nil
}

func (r *paymentSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.PaymentSession) error {
	const q = `
INSERT INTO payment_sessions (
  id, external_reference, provider, course_id, product_id, amount, currency,
  customer_id, customer_name, customer_email, status, fulfillment_state, checkout_url,
  created_at, updated_at, paid_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, nullIfEmpty(s.ExternalReference), s.Provider, nullIfEmpty(s.Subject.CourseID), nullIfEmpty(s.Subject.ProductID),
		s.Amount, s.Currency, nullIfEmpty(s.Customer.ID), s.Customer.Name, s.Customer.Email,
		s.Status, s.FulfillmentState, nullIfEmpty(s.CheckoutURL), s.CreatedAt, s.UpdatedAt, s.PaidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return mapExecErr(err)
	}
	return nil
}

func (r *paymentSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id=$1`
	if isLocked(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	s, err := scanSession(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return s, nil
}

func (r *paymentSessionRepo) FindByExternalReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentSession, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE provider=$1 AND external_reference=$2`
	if isLocked(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, provider, ref)
	if err != nil {
		return nil, err
	}
	s, err := scanSession(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return s, nil
}

func (r *paymentSessionRepo) MarkPending(ctx context.Context, tx repository.Tx, id, ref, checkoutURL string) (bool, error) {
	const q = `
UPDATE payment_sessions
   SET status = 'pending',
       external_reference = $2,
       checkout_url = $3,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'created'`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, ref, nullIfEmpty(checkoutURL))
	if err != nil {
		if isUniqueViolation(err) {
			return false, domain.ErrAlreadyExists
		}
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

// TransitionStatus only applies when the row is still in from.
func (r *paymentSessionRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.PaymentStatus, at time.Time) (bool, error) {
	const q = `
UPDATE payment_sessions
   SET status = $3,
       paid_at = CASE WHEN $3 = 'paid' THEN $4 ELSE paid_at END,
       updated_at = $4
 WHERE id = $1
   AND status = $2`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(from), string(to), at)
	if err != nil {
		return false, mapExecErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentSessionRepo) UpdateFulfillmentState(ctx context.Context, tx repository.Tx, id string, state model.FulfillmentState) error {
	const q = `UPDATE payment_sessions SET fulfillment_state=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, state)
	if err != nil {
		return mapExecErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentSessionRepo) ListStale(ctx context.Context, tx repository.Tx, status model.PaymentStatus, olderThan time.Time, limit int) ([]*model.PaymentSession, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE status=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, status, olderThan, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}
