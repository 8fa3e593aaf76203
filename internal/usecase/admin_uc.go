package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/repository"
)

// Compile-time check
var _ AdminUseCase = (*adminUC)(nil)

// SessionDetail is the operator view of one session.
type SessionDetail struct {
	Session *model.PaymentSession      `json:"session"`
	Job     *model.FulfillmentJob      `json:"fulfillment,omitempty"`
	Events  []*model.NotificationEvent `json:"events"`
}

type AdminUseCase interface {
	SessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error)
	ListFulfillments(ctx context.Context, states []model.FulfillmentJobState, limit int) ([]*model.FulfillmentJob, error)
	RetryFulfillment(ctx context.Context, sessionID string) error
	// Replay feeds a stored or hand-captured payload through the normal
	// pipeline, signature check included.
	Replay(ctx context.Context, req IngestRequest) IngestResult
}

type adminUC struct {
	sessions    repository.PaymentSessionRepository
	events      repository.NotificationEventRepository
	jobs        repository.FulfillmentJobRepository
	fulfillment FulfillmentUseCase
	ingest      IngestUseCase
	log         *zerolog.Logger
}

func NewAdminUseCase(
	sessions repository.PaymentSessionRepository,
	events repository.NotificationEventRepository,
	jobs repository.FulfillmentJobRepository,
	fulfillment FulfillmentUseCase,
	ingest IngestUseCase,
	logger *zerolog.Logger,
) *adminUC {
	return &adminUC{
		sessions:    sessions,
		events:      events,
		jobs:        jobs,
		fulfillment: fulfillment,
		ingest:      ingest,
		log:         logger,
	}
}

func (u *adminUC) SessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	s, err := u.sessions.FindByID(ctx, repository.NoTX, sessionID)
	if err != nil {
		return nil, err
	}
	d := &SessionDetail{Session: s}
	job, err := u.jobs.FindBySession(ctx, repository.NoTX, sessionID)
	switch {
	case err == nil:
		d.Job = job
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	if d.Events, err = u.events.ListBySession(ctx, repository.NoTX, sessionID, 100); err != nil {
		return nil, err
	}
	return d, nil
}

func (u *adminUC) ListFulfillments(ctx context.Context, states []model.FulfillmentJobState, limit int) ([]*model.FulfillmentJob, error) {
	if len(states) == 0 {
		states = []model.FulfillmentJobState{model.JobFailed, model.JobExhausted}
	}
	for _, s := range states {
		switch s {
		case model.JobPending, model.JobInProgress, model.JobCompleted, model.JobFailed, model.JobExhausted:
		default:
			return nil, fmt.Errorf("%w: unknown job state %q", domain.ErrInvalidArgument, s)
		}
	}
	return u.jobs.ListByState(ctx, repository.NoTX, states, limit)
}

func (u *adminUC) RetryFulfillment(ctx context.Context, sessionID string) error {
	err := u.fulfillment.Retry(ctx, sessionID)
	u.log.Info().Err(err).Str("session_id", sessionID).Msg("admin fulfillment retry")
	return err
}

func (u *adminUC) Replay(ctx context.Context, req IngestRequest) IngestResult {
	res := u.ingest.Ingest(ctx, req)
	u.log.Info().Str("provider", req.Provider).Str("outcome", string(res.Outcome)).Msg("admin notification replay")
	return res
}
