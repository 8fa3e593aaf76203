package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/repository"
	"payment-reconciler/internal/infra/metrics"
	red "payment-reconciler/internal/infra/redis"
)

var _ repository.PaymentSessionRepository = (*sessionRefCacheDecorator)(nil)

// sessionRefCacheDecorator caches the provider reference -> session id
// mapping, which never changes once assigned. Session rows themselves always
// come from the inner repository so status reads and row locks stay exact.
type sessionRefCacheDecorator struct {
	inner repository.PaymentSessionRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPaymentSessionRepoCacheDecorator(inner repository.PaymentSessionRepository, cache red.RedisClient, ttl time.Duration) repository.PaymentSessionRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &sessionRefCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func refKey(provider model.Provider, ref string) string {
	return fmt.Sprintf("payment:ref:%s:%s", provider, ref)
}

func (d *sessionRefCacheDecorator) FindByExternalReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentSession, error) {
	key := refKey(provider, ref)
	id, err := d.cache.Get(ctx, key)
	if err == nil && id != "" {
		metrics.IncCacheRequest("session_ref", "hit")
		return d.inner.FindByID(ctx, tx, id)
	}
	if err != nil && !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("session_ref", "error")
	} else {
		metrics.IncCacheRequest("session_ref", "miss")
	}

	s, err := d.inner.FindByExternalReference(ctx, tx, provider, ref)
	if err != nil {
		return nil, err
	}
	_ = d.cache.Set(ctx, key, s.ID, d.ttl)
	return s, nil
}

func (d *sessionRefCacheDecorator) MarkPending(ctx context.Context, tx repository.Tx, id, ref, checkoutURL string) (bool, error) {
	ok, err := d.inner.MarkPending(ctx, tx, id, ref, checkoutURL)
	if err != nil || !ok {
		return ok, err
	}
	// Warm only when not inside a caller transaction that may still roll back.
	if tx == nil {
		if s, err := d.inner.FindByID(ctx, nil, id); err == nil {
			_ = d.cache.Set(ctx, refKey(s.Provider, ref), id, d.ttl)
		}
	}
	return true, nil
}

// Pass-through methods that don't need caching
func (d *sessionRefCacheDecorator) Save(ctx context.Context, tx repository.Tx, s *model.PaymentSession) error {
	return d.inner.Save(ctx, tx, s)
}

func (d *sessionRefCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentSession, error) {
	return d.inner.FindByID(ctx, tx, id)
}

func (d *sessionRefCacheDecorator) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.PaymentStatus, at time.Time) (bool, error) {
	return d.inner.TransitionStatus(ctx, tx, id, from, to, at)
}

func (d *sessionRefCacheDecorator) UpdateFulfillmentState(ctx context.Context, tx repository.Tx, id string, state model.FulfillmentState) error {
	return d.inner.UpdateFulfillmentState(ctx, tx, id, state)
}

func (d *sessionRefCacheDecorator) ListStale(ctx context.Context, tx repository.Tx, status model.PaymentStatus, olderThan time.Time, limit int) ([]*model.PaymentSession, error) {
	return d.inner.ListStale(ctx, tx, status, olderThan, limit)
}
