package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/domain/ports/repository"
	"payment-reconciler/internal/infra/logging"
	"payment-reconciler/internal/infra/metrics"
)

// Compile-time check
var _ FulfillmentUseCase = (*fulfillmentUC)(nil)

type FulfillmentUseCase interface {
	// Dispatch attempts the grant for a paid session if its job is due.
	// Concurrent calls for one session collapse into a single attempt.
	Dispatch(ctx context.Context, sessionID string) error
	// DueSessions lists sessions whose job is ready for another attempt.
	DueSessions(ctx context.Context) ([]string, error)
	// Retry re-arms a failed or exhausted job and dispatches it immediately.
	Retry(ctx context.Context, sessionID string) error
}

type FulfillmentConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
	ClaimTTL    time.Duration
	BatchSize   int
}

type fulfillmentUC struct {
	sessions  repository.PaymentSessionRepository
	jobs      repository.FulfillmentJobRepository
	txm       repository.TransactionManager
	fulfiller adapter.Fulfiller
	publisher adapter.EventPublisher
	cfg       FulfillmentConfig
	flight    singleflight.Group
	log       *zerolog.Logger
}

func NewFulfillmentUseCase(
	sessions repository.PaymentSessionRepository,
	jobs repository.FulfillmentJobRepository,
	txm repository.TransactionManager,
	fulfiller adapter.Fulfiller,
	publisher adapter.EventPublisher,
	cfg FulfillmentConfig,
	logger *zerolog.Logger,
) *fulfillmentUC {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ClaimTTL <= cfg.CallTimeout {
		cfg.ClaimTTL = 2 * cfg.CallTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &fulfillmentUC{
		sessions:  sessions,
		jobs:      jobs,
		txm:       txm,
		fulfiller: fulfiller,
		publisher: publisher,
		cfg:       cfg,
		log:       logger,
	}
}

// Backoff is base * 2^(attempt-1), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (u *fulfillmentUC) Dispatch(ctx context.Context, sessionID string) error {
	_, err, _ := u.flight.Do(sessionID, func() (interface{}, error) {
		return nil, u.dispatch(ctx, sessionID)
	})
	return err
}

func (u *fulfillmentUC) dispatch(ctx context.Context, sessionID string) error {
	defer logging.TraceDuration(u.log, "FulfillmentUC.Dispatch")()
	log := logging.With(ctx, u.log).With().Str("session_id", sessionID).Logger()
	now := time.Now().UTC()

	job, err := u.jobs.Claim(ctx, repository.NoTX, sessionID, now, u.cfg.ClaimTTL)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Msg("no claimable fulfillment job")
		return nil
	}
	if err != nil {
		return err
	}
	log = log.With().Int("attempt", job.Attempts).Logger()

	s, err := u.sessions.FindByID(ctx, repository.NoTX, sessionID)
	if err != nil {
		return err
	}
	if s.Status != model.PaymentStatusPaid {
		return u.giveUp(ctx, &log, job, s, fmt.Sprintf("session is %s", s.Status))
	}
	if job.Attempts > u.cfg.MaxAttempts {
		return u.giveUp(ctx, &log, job, s, "attempt budget spent")
	}

	callCtx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	grantErr := u.fulfiller.GrantAccess(callCtx, adapter.GrantRequest{
		IdempotencyKey: s.ID,
		Subject:        s.Subject,
		CustomerID:     s.Customer.ID,
		CustomerEmail:  s.Customer.Email,
	})
	cancel()
	metrics.IncFulfillmentAttempt(grantErr)

	// The grant happened; record it even if our caller is gone.
	pctx := context.WithoutCancel(ctx)
	if grantErr == nil {
		return u.complete(pctx, &log, s)
	}
	return u.recordFailure(pctx, &log, job, s, grantErr)
}

func (u *fulfillmentUC) complete(ctx context.Context, log *zerolog.Logger, s *model.PaymentSession) error {
	now := time.Now().UTC()
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.MarkCompleted(ctx, tx, s.ID, now); err != nil {
			return err
		}
		return u.sessions.UpdateFulfillmentState(ctx, tx, s.ID, model.FulfillmentCompleted)
	})
	if err != nil {
		log.Error().Err(err).Msg("grant succeeded but completion was not stored")
		return err
	}
	s.FulfillmentState = model.FulfillmentCompleted
	log.Info().Str("subject", s.Subject.Kind()+":"+s.Subject.ID()).Msg("access granted")
	u.publish(ctx, log, model.NewLifecycleEvent(model.EventFulfillmentCompleted, s, ""))
	return nil
}

func (u *fulfillmentUC) recordFailure(ctx context.Context, log *zerolog.Logger, job *model.FulfillmentJob, s *model.PaymentSession, cause error) error {
	state := model.JobFailed
	if job.Attempts >= u.cfg.MaxAttempts {
		state = model.JobExhausted
	}
	next := time.Now().UTC().Add(Backoff(job.Attempts, u.cfg.BaseBackoff, u.cfg.MaxBackoff))
	if err := u.storeFailure(ctx, job, s, state, next, cause.Error()); err != nil {
		log.Error().Err(err).Msg("store fulfillment failure")
	}
	if state == model.JobExhausted {
		u.exhausted(ctx, log, s, cause.Error())
	} else {
		log.Warn().Err(cause).Time("next_attempt_at", next).Msg("grant failed; will retry")
	}
	return fmt.Errorf("%w: %v", domain.ErrFulfillmentFailure, cause)
}

// giveUp parks the job for manual reconciliation without calling the catalog.
func (u *fulfillmentUC) giveUp(ctx context.Context, log *zerolog.Logger, job *model.FulfillmentJob, s *model.PaymentSession, reason string) error {
	if err := u.storeFailure(ctx, job, s, model.JobExhausted, time.Now().UTC(), reason); err != nil {
		log.Error().Err(err).Msg("store fulfillment failure")
	}
	u.exhausted(ctx, log, s, reason)
	return fmt.Errorf("%w: %s", domain.ErrFulfillmentFailure, reason)
}

func (u *fulfillmentUC) storeFailure(ctx context.Context, job *model.FulfillmentJob, s *model.PaymentSession, state model.FulfillmentJobState, next time.Time, reason string) error {
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.MarkFailed(ctx, tx, job.SessionID, state, next, reason); err != nil {
			return err
		}
		return u.sessions.UpdateFulfillmentState(ctx, tx, s.ID, model.FulfillmentFailed)
	})
	if err == nil {
		job.State, job.NextAttemptAt, job.LastError = state, next, reason
		s.FulfillmentState = model.FulfillmentFailed
	}
	return err
}

func (u *fulfillmentUC) exhausted(ctx context.Context, log *zerolog.Logger, s *model.PaymentSession, reason string) {
	metrics.IncFulfillmentExhausted()
	log.Error().Str("reason", reason).Msg("fulfillment exhausted; manual reconciliation needed")
	u.publish(ctx, log, model.NewLifecycleEvent(model.EventFulfillmentExhausted, s, reason))
}

func (u *fulfillmentUC) DueSessions(ctx context.Context) ([]string, error) {
	jobs, err := u.jobs.ListDue(ctx, repository.NoTX, time.Now().UTC(), u.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.SessionID)
	}
	return ids, nil
}

func (u *fulfillmentUC) Retry(ctx context.Context, sessionID string) error {
	ok, err := u.jobs.Rearm(ctx, repository.NoTX, sessionID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		job, err := u.jobs.FindBySession(ctx, repository.NoTX, sessionID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: fulfillment job is %s", domain.ErrInvalidArgument, job.State)
	}
	u.log.Info().Str("session_id", sessionID).Msg("fulfillment re-armed")
	return u.Dispatch(ctx, sessionID)
}

func (u *fulfillmentUC) publish(ctx context.Context, log *zerolog.Logger, ev model.LifecycleEvent) {
	if u.publisher == nil {
		return
	}
	if err := u.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish lifecycle event failed")
	}
}
