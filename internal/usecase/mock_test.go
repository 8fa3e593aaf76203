//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/domain/ports/repository"
)

// =============================
// Repositories (in-memory)
// =============================

// ---- Payment sessions ----

type MemSessionRepo struct {
	mu   sync.Mutex
	rows map[string]model.PaymentSession
}

var _ repository.PaymentSessionRepository = (*MemSessionRepo)(nil)

func NewMemSessionRepo() *MemSessionRepo {
	return &MemSessionRepo{rows: map[string]model.PaymentSession{}}
}

func (r *MemSessionRepo) Save(_ context.Context, _ repository.Tx, s *model.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.rows[s.ID] = *s
	return nil
}

func (r *MemSessionRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *MemSessionRepo) FindByExternalReference(_ context.Context, _ repository.Tx, provider model.Provider, ref string) (*model.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.Provider == provider && s.ExternalReference != "" && s.ExternalReference == ref {
			out := s
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemSessionRepo) MarkPending(_ context.Context, _ repository.Tx, id, ref, checkoutURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Status != model.PaymentStatusCreated {
		return false, nil
	}
	s.Status, s.ExternalReference, s.CheckoutURL, s.UpdatedAt = model.PaymentStatusPending, ref, checkoutURL, time.Now().UTC()
	r.rows[id] = s
	return true, nil
}

func (r *MemSessionRepo) TransitionStatus(_ context.Context, _ repository.Tx, id string, from, to model.PaymentStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status, s.UpdatedAt = to, at
	if to == model.PaymentStatusPaid {
		s.PaidAt = &at
	}
	r.rows[id] = s
	return true, nil
}

func (r *MemSessionRepo) UpdateFulfillmentState(_ context.Context, _ repository.Tx, id string, state model.FulfillmentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.FulfillmentState = state
	r.rows[id] = s
	return nil
}

func (r *MemSessionRepo) ListStale(_ context.Context, _ repository.Tx, status model.PaymentStatus, olderThan time.Time, limit int) ([]*model.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PaymentSession
	for _, s := range r.rows {
		if s.Status == status && s.CreatedAt.Before(olderThan) {
			c := s
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Backdate moves CreatedAt into the past so sweeps pick the session up.
func (r *MemSessionRepo) Backdate(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.rows[id]
	s.CreatedAt = s.CreatedAt.Add(-d)
	r.rows[id] = s
}

// Put inserts a session as-is, bypassing the create flow.
func (r *MemSessionRepo) Put(s model.PaymentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = s
}

// ---- Notification ledger ----

type MemEventRepo struct {
	mu    sync.Mutex
	keyed map[string]model.NotificationEvent
	audit []model.NotificationEvent
	Err   error
}

var _ repository.NotificationEventRepository = (*MemEventRepo)(nil)

func NewMemEventRepo() *MemEventRepo {
	return &MemEventRepo{keyed: map[string]model.NotificationEvent{}}
}

func (r *MemEventRepo) RecordIfNew(_ context.Context, _ repository.Tx, ev *model.NotificationEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	if ev.DedupeKey == "" {
		return false, domain.ErrInvalidArgument
	}
	if _, ok := r.keyed[ev.DedupeKey]; ok {
		return false, nil
	}
	r.keyed[ev.DedupeKey] = *ev
	return true, nil
}

func (r *MemEventRepo) Append(_ context.Context, _ repository.Tx, ev *model.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, *ev)
	return nil
}

func (r *MemEventRepo) ListBySession(_ context.Context, _ repository.Tx, sessionID string, limit int) ([]*model.NotificationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.NotificationEvent
	for _, e := range r.keyed {
		if e.SessionID == sessionID {
			c := e
			out = append(out, &c)
		}
	}
	for _, e := range r.audit {
		if e.SessionID == sessionID {
			c := e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemEventRepo) Keyed() []model.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NotificationEvent, 0, len(r.keyed))
	for _, e := range r.keyed {
		out = append(out, e)
	}
	return out
}

func (r *MemEventRepo) Audit() []model.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.NotificationEvent(nil), r.audit...)
}

// ---- Fulfillment jobs ----

type MemJobRepo struct {
	mu   sync.Mutex
	rows map[string]model.FulfillmentJob
}

var _ repository.FulfillmentJobRepository = (*MemJobRepo)(nil)

func NewMemJobRepo() *MemJobRepo {
	return &MemJobRepo{rows: map[string]model.FulfillmentJob{}}
}

func (r *MemJobRepo) Enqueue(_ context.Context, _ repository.Tx, job *model.FulfillmentJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[job.SessionID]; !ok {
		r.rows[job.SessionID] = *job
	}
	return nil
}

func (r *MemJobRepo) Claim(_ context.Context, _ repository.Tx, sessionID string, now time.Time, lease time.Duration) (*model.FulfillmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	due := (j.State == model.JobPending || j.State == model.JobFailed) && !j.NextAttemptAt.After(now)
	stale := j.State == model.JobInProgress && j.LockedUntil != nil && j.LockedUntil.Before(now)
	if !due && !stale {
		return nil, domain.ErrNotFound
	}
	until := now.Add(lease)
	j.State, j.LockedUntil, j.UpdatedAt = model.JobInProgress, &until, now
	j.Attempts++
	r.rows[sessionID] = j
	return &j, nil
}

func (r *MemJobRepo) MarkCompleted(_ context.Context, _ repository.Tx, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	j.State, j.LockedUntil, j.LastError, j.UpdatedAt = model.JobCompleted, nil, "", at
	r.rows[sessionID] = j
	return nil
}

func (r *MemJobRepo) MarkFailed(_ context.Context, _ repository.Tx, sessionID string, state model.FulfillmentJobState, next time.Time, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	j.State, j.NextAttemptAt, j.LastError, j.LockedUntil = state, next, lastErr, nil
	r.rows[sessionID] = j
	return nil
}

func (r *MemJobRepo) Rearm(_ context.Context, _ repository.Tx, sessionID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[sessionID]
	if !ok {
		return false, nil
	}
	if j.State != model.JobFailed && j.State != model.JobExhausted {
		return false, nil
	}
	j.State, j.Attempts, j.NextAttemptAt = model.JobPending, 0, now
	r.rows[sessionID] = j
	return true, nil
}

func (r *MemJobRepo) FindBySession(_ context.Context, _ repository.Tx, sessionID string) (*model.FulfillmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (r *MemJobRepo) ListDue(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.FulfillmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FulfillmentJob
	for _, j := range r.rows {
		due := (j.State == model.JobPending || j.State == model.JobFailed) && !j.NextAttemptAt.After(now)
		stale := j.State == model.JobInProgress && j.LockedUntil != nil && j.LockedUntil.Before(now)
		if due || stale {
			c := j
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemJobRepo) ListByState(_ context.Context, _ repository.Tx, states []model.FulfillmentJobState, limit int) ([]*model.FulfillmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FulfillmentJob
	for _, j := range r.rows {
		for _, s := range states {
			if j.State == s {
				c := j
				out = append(out, &c)
				break
			}
		}
	}
	return out, nil
}

// MakeDue pulls a job's next attempt into the past.
func (r *MemJobRepo) MakeDue(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.rows[sessionID]
	j.NextAttemptAt = time.Now().Add(-time.Second)
	r.rows[sessionID] = j
}

// ---- TransactionManager ----

// MockTxManager serializes transactions, standing in for the row lock taken
// by FindByID inside a real transaction.
type MockTxManager struct {
	mu         sync.Mutex
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

var _ repository.Locker = (*MockLocker)(nil)

func (l *MockLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockBusy
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// =============================
// Adapters
// =============================

// ---- ProviderGateway ----

type MockGateway struct {
	mu       sync.Mutex
	provider model.Provider
	Requests []adapter.CreateSessionRequest

	CreateFunc func(ctx context.Context, req adapter.CreateSessionRequest) (adapter.CreateSessionResult, error)
}

var _ adapter.ProviderGateway = (*MockGateway)(nil)

func NewMockGateway(p model.Provider) *MockGateway { return &MockGateway{provider: p} }

func (g *MockGateway) Provider() model.Provider { return g.provider }

func (g *MockGateway) CreateSession(ctx context.Context, req adapter.CreateSessionRequest) (adapter.CreateSessionResult, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	g.mu.Unlock()
	if g.CreateFunc != nil {
		return g.CreateFunc(ctx, req)
	}
	ref := "ext-" + req.SessionID
	return adapter.CreateSessionResult{ExternalReference: ref, CheckoutURL: "https://checkout.test/" + ref}, nil
}

// ---- Fulfiller ----

type MockFulfiller struct {
	mu    sync.Mutex
	Calls []adapter.GrantRequest
	Delay time.Duration

	// GrantFunc receives the 1-based call number.
	GrantFunc func(ctx context.Context, n int, req adapter.GrantRequest) error
}

var _ adapter.Fulfiller = (*MockFulfiller)(nil)

func (f *MockFulfiller) GrantAccess(ctx context.Context, req adapter.GrantRequest) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	n := len(f.Calls)
	f.mu.Unlock()
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.GrantFunc != nil {
		return f.GrantFunc(ctx, n, req)
	}
	return nil
}

func (f *MockFulfiller) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// ---- CustomerResolver ----

type MockResolver struct {
	Customers map[string]model.Customer
	Err       error
}

func (r *MockResolver) ResolveCustomer(_ context.Context, userID string) (model.Customer, error) {
	if r.Err != nil {
		return model.Customer{}, r.Err
	}
	c, ok := r.Customers[userID]
	if !ok {
		return model.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

// ---- EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []model.LifecycleEvent
	Err    error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (p *MockPublisher) Publish(_ context.Context, ev model.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return p.Err
}

func (p *MockPublisher) Close() error { return nil }

func (p *MockPublisher) Types() []model.LifecycleEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.LifecycleEventType, 0, len(p.Events))
	for _, e := range p.Events {
		out = append(out, e.Type)
	}
	return out
}

// =============================
// Helpers
// =============================

var errBoom = errors.New("boom")

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
