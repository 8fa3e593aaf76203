//go:build !integration

package postgres

import (
	"context"
	"time"

	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/repository"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerSessionRepo mocks the database repository that the session decorator wraps.
type mockInnerSessionRepo struct {
	repository.PaymentSessionRepository
	FindByIDFunc                func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentSession, error)
	FindByExternalReferenceFunc func(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentSession, error)
	MarkPendingFunc             func(ctx context.Context, tx repository.Tx, id, ref, checkoutURL string) (bool, error)
}

func (m *mockInnerSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentSession, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerSessionRepo) FindByExternalReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentSession, error) {
	return m.FindByExternalReferenceFunc(ctx, tx, provider, ref)
}
func (m *mockInnerSessionRepo) MarkPending(ctx context.Context, tx repository.Tx, id, ref, checkoutURL string) (bool, error) {
	return m.MarkPendingFunc(ctx, tx, id, ref, checkoutURL)
}

type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
