package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/domain/ports/repository"
	"payment-reconciler/internal/infra/logging"
	"payment-reconciler/internal/infra/metrics"
)

// Compile-time check
var _ StateMachine = (*stateMachine)(nil)

// TransitionRequest asks for one status change. Event is nil for internal
// transitions (provider call failed, TTL sweep); when set it is recorded in
// the same transaction and its dedupe key decides whether the request is new.
type TransitionRequest struct {
	SessionID string
	Target    model.PaymentStatus
	Event     *model.NotificationEvent
	Reason    string
}

type TransitionResult struct {
	Session           *model.PaymentSession // state after the call
	From              model.PaymentStatus
	To                model.PaymentStatus
	Applied           bool
	LateSuccess       bool // paid reported for an expired or failed session
	FulfillmentQueued bool
}

// StateMachine is the only writer of PaymentSession.Status.
type StateMachine interface {
	// Apply returns ErrDuplicateEvent when the event was already recorded and
	// ErrInvalidTransition when the edge is not allowed; in the latter case the
	// event is still recorded (outcome no_op) and the session is unchanged.
	Apply(ctx context.Context, req TransitionRequest) (TransitionResult, error)
}

type stateMachine struct {
	sessions  repository.PaymentSessionRepository
	events    repository.NotificationEventRepository
	jobs      repository.FulfillmentJobRepository
	txm       repository.TransactionManager
	locker    repository.Locker
	publisher adapter.EventPublisher
	lockTTL   time.Duration
	log       *zerolog.Logger
}

// NewStateMachine wires the transition guard. locker and publisher may be nil.
func NewStateMachine(
	sessions repository.PaymentSessionRepository,
	events repository.NotificationEventRepository,
	jobs repository.FulfillmentJobRepository,
	txm repository.TransactionManager,
	locker repository.Locker,
	publisher adapter.EventPublisher,
	lockTTL time.Duration,
	logger *zerolog.Logger,
) *stateMachine {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &stateMachine{
		sessions:  sessions,
		events:    events,
		jobs:      jobs,
		txm:       txm,
		locker:    locker,
		publisher: publisher,
		lockTTL:   lockTTL,
		log:       logger,
	}
}

func (m *stateMachine) Apply(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	defer logging.TraceDuration(m.log, "StateMachine.Apply")()
	log := logging.With(ctx, m.log).With().
		Str("session_id", req.SessionID).
		Str("target", string(req.Target)).
		Logger()

	unlock := m.lock(ctx, req.SessionID, &log)
	defer unlock()

	var res TransitionResult
	err := m.txm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		res = TransitionResult{}
		now := time.Now().UTC()

		s, err := m.sessions.FindByID(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		res.Session, res.From, res.To = s, s.Status, s.Status
		allowed := s.Status.CanTransitionTo(req.Target)

		if ev := req.Event; ev != nil {
			ev.SessionID = s.ID
			if ev.ID == "" {
				ev.ID = ulid.Make().String()
			}
			if ev.ReceivedAt.IsZero() {
				ev.ReceivedAt = now
			}
			if allowed {
				ev.Outcome = model.OutcomeAccepted
			} else {
				ev.Outcome = model.OutcomeNoOp
				ev.Detail = fmt.Sprintf("%s -> %s not allowed", s.Status, req.Target)
			}
			isNew, err := m.events.RecordIfNew(ctx, tx, ev)
			if err != nil {
				return err
			}
			if !isNew {
				return domain.ErrDuplicateEvent
			}
		}

		if !allowed {
			res.LateSuccess = req.Target == model.PaymentStatusPaid &&
				(s.Status == model.PaymentStatusExpired || s.Status == model.PaymentStatusFailed)
			return nil
		}

		ok, err := m.sessions.TransitionStatus(ctx, tx, s.ID, s.Status, req.Target, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: session %s changed concurrently", domain.ErrInvalidTransition, s.ID)
		}
		s.Status = req.Target
		s.UpdatedAt = now

		if req.Target == model.PaymentStatusPaid {
			s.PaidAt = &now
			s.FulfillmentState = model.FulfillmentPending
			if err := m.sessions.UpdateFulfillmentState(ctx, tx, s.ID, model.FulfillmentPending); err != nil {
				return err
			}
			job := &model.FulfillmentJob{
				ID:            ulid.Make().String(),
				SessionID:     s.ID,
				State:         model.JobPending,
				NextAttemptAt: now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := m.jobs.Enqueue(ctx, tx, job); err != nil {
				return err
			}
			res.FulfillmentQueued = true
		}
		res.To = req.Target
		res.Applied = true
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrDuplicateEvent):
		log.Info().Msg("duplicate notification; already processed")
		return res, err
	case err != nil:
		return res, err
	}

	if !res.Applied {
		if res.LateSuccess {
			log.Error().Str("status", string(res.From)).Msg("paid reported for closed session; manual reconciliation needed")
			metrics.IncLateSuccess(string(res.Session.Provider))
			m.publish(ctx, &log, model.NewLifecycleEvent(model.EventPaymentLateSuccess, res.Session, req.Reason))
		} else {
			log.Info().Str("status", string(res.From)).Msg("transition not allowed; ignored")
		}
		return res, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, res.From, req.Target)
	}

	log.Info().Str("from", string(res.From)).Str("reason", req.Reason).Msg("payment status changed")
	metrics.IncTransition(string(res.From), string(res.To))
	if res.To == model.PaymentStatusPaid {
		metrics.AddPaymentRevenue(res.Session.Currency, res.Session.Amount)
	}
	if t, ok := model.TransitionEventType(res.To); ok {
		m.publish(ctx, &log, model.NewLifecycleEvent(t, res.Session, req.Reason))
	}
	return res, nil
}

// lock takes the advisory Redis lock. The row lock inside the transaction is
// what guarantees exclusion, so failures here only cost contention.
func (m *stateMachine) lock(ctx context.Context, sessionID string, log *zerolog.Logger) func() {
	if m.locker == nil {
		return func() {}
	}
	key := "payment:lock:" + sessionID
	token, err := m.locker.TryLock(ctx, key, m.lockTTL)
	if err != nil {
		log.Debug().Err(err).Msg("advisory lock not acquired; relying on row lock")
		return func() {}
	}
	return func() {
		if err := m.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Msg("advisory unlock failed")
		}
	}
}

func (m *stateMachine) publish(ctx context.Context, log *zerolog.Logger, ev model.LifecycleEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish lifecycle event failed")
	}
}
