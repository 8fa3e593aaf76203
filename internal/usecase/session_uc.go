package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/domain/ports/repository"
	"payment-reconciler/internal/infra/logging"
	"payment-reconciler/internal/infra/metrics"
)

// Compile-time check
var _ SessionUseCase = (*sessionUC)(nil)

type CreateSessionInput struct {
	Provider model.Provider
	Subject  model.SubjectRef
	Amount   int64 // minor units
	Currency string
	Customer model.Customer
	UserID   string // authenticated caller, if any
}

type SessionUseCase interface {
	// CreateSession persists a created session, opens the provider checkout and
	// moves it to pending. On provider failure the session ends failed.
	CreateSession(ctx context.Context, in CreateSessionInput) (*model.PaymentSession, error)
	GetSession(ctx context.Context, id string) (*model.PaymentSession, error)
	// ExpireStale closes sessions whose TTL elapsed and returns how many moved.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type SessionConfig struct {
	DefaultCurrency string
	GuestEmail      string
	SessionTTL      time.Duration
	ProviderTimeout time.Duration
	PublicBaseURL   string // webhook URLs are derived from it
	SweepBatch      int
	Dev             bool
}

type sessionUC struct {
	sessions  repository.PaymentSessionRepository
	gateways  map[model.Provider]adapter.ProviderGateway
	customers adapter.CustomerResolver
	sm        StateMachine
	cfg       SessionConfig
	log       *zerolog.Logger
}

// NewSessionUseCase builds the session use case. customers may be nil, in
// which case only the request body and the guest email are consulted.
func NewSessionUseCase(
	sessions repository.PaymentSessionRepository,
	gateways map[model.Provider]adapter.ProviderGateway,
	customers adapter.CustomerResolver,
	sm StateMachine,
	cfg SessionConfig,
	logger *zerolog.Logger,
) *sessionUC {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &sessionUC{
		sessions:  sessions,
		gateways:  gateways,
		customers: customers,
		sm:        sm,
		cfg:       cfg,
		log:       logger,
	}
}

func (u *sessionUC) CreateSession(ctx context.Context, in CreateSessionInput) (*model.PaymentSession, error) {
	defer logging.TraceDuration(u.log, "SessionUC.CreateSession")()
	log := logging.With(ctx, u.log)

	gw, ok := u.gateways[in.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidRequest, domain.ErrUnknownProvider, in.Provider)
	}
	if strings.TrimSpace(in.Currency) == "" {
		in.Currency = u.cfg.DefaultCurrency
	}

	s, err := model.NewPaymentSession(in.Provider, in.Subject, in.Amount, in.Currency, u.resolveCustomer(ctx, in, log))
	if err != nil {
		metrics.IncSessionCreated(string(in.Provider), "invalid")
		return nil, err
	}
	if err := u.sessions.Save(ctx, repository.NoTX, s); err != nil {
		metrics.IncSessionCreated(string(in.Provider), "error")
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, u.cfg.ProviderTimeout)
	start := time.Now()
	res, callErr := gw.CreateSession(callCtx, adapter.CreateSessionRequest{
		SessionID:  s.ID,
		Amount:     s.Amount,
		Currency:   s.Currency,
		Customer:   s.Customer,
		Subject:    s.Subject,
		ExpiresAt:  s.CreatedAt.Add(u.cfg.SessionTTL),
		WebhookURL: u.webhookURL(s.Provider),
	})
	cancel()
	metrics.ObserveProviderCall(string(s.Provider), time.Since(start), callErr)

	// The caller may have gone away while the provider answered; keep the
	// reference anyway so a late notification can still be matched.
	persistCtx := context.WithoutCancel(ctx)
	if callErr == nil && ctx.Err() != nil {
		if _, err := u.sessions.MarkPending(persistCtx, repository.NoTX, s.ID, res.ExternalReference, res.CheckoutURL); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("store reference after cancel failed")
		}
		u.fail(persistCtx, s, "request cancelled", log)
		metrics.IncSessionCreated(string(s.Provider), "cancelled")
		return nil, fmt.Errorf("create session cancelled: %w", ctx.Err())
	}
	if callErr != nil {
		u.fail(persistCtx, s, callErr.Error(), log)
		metrics.IncSessionCreated(string(s.Provider), "provider_error")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("create session cancelled: %w", ctx.Err())
		}
		if errors.Is(callErr, domain.ErrProviderUnavailable) {
			return nil, callErr
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, callErr)
	}

	ok, err = u.sessions.MarkPending(ctx, repository.NoTX, s.ID, res.ExternalReference, res.CheckoutURL)
	if err != nil {
		metrics.IncSessionCreated(string(s.Provider), "error")
		return nil, err
	}
	if !ok {
		metrics.IncSessionCreated(string(s.Provider), "error")
		return nil, fmt.Errorf("%w: session %s closed before checkout opened", domain.ErrProviderUnavailable, s.ID)
	}
	s.Status = model.PaymentStatusPending
	s.ExternalReference = res.ExternalReference
	s.CheckoutURL = res.CheckoutURL
	s.UpdatedAt = time.Now().UTC()

	metrics.IncSessionCreated(string(s.Provider), "ok")
	log.Info().
		Str("session_id", s.ID).
		Str("provider", string(s.Provider)).
		Str("ref", s.ExternalReference).
		Str("email", logging.Redact(s.Customer.Email, u.cfg.Dev)).
		Int64("amount", s.Amount).
		Str("currency", s.Currency).
		Msg("payment session opened")
	return s, nil
}

func (u *sessionUC) GetSession(ctx context.Context, id string) (*model.PaymentSession, error) {
	return u.sessions.FindByID(ctx, repository.NoTX, id)
}

func (u *sessionUC) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "SessionUC.ExpireStale")()
	cutoff := now.Add(-u.cfg.SessionTTL)
	n := 0
	sweeps := []struct {
		from, to model.PaymentStatus
		reason   string
	}{
		{model.PaymentStatusPending, model.PaymentStatusExpired, "session ttl elapsed"},
		{model.PaymentStatusCreated, model.PaymentStatusFailed, "provider session never opened"},
	}
	for _, sw := range sweeps {
		stale, err := u.sessions.ListStale(ctx, repository.NoTX, sw.from, cutoff, u.cfg.SweepBatch)
		if err != nil {
			return n, err
		}
		for _, s := range stale {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			_, err := u.sm.Apply(ctx, TransitionRequest{SessionID: s.ID, Target: sw.to, Reason: sw.reason})
			switch {
			case err == nil:
				n++
			case errors.Is(err, domain.ErrInvalidTransition):
				// settled between the list and the apply
			default:
				u.log.Warn().Err(err).Str("session_id", s.ID).Msg("expire session failed")
			}
		}
	}
	return n, nil
}

// resolveCustomer fills the email from the request, then the account
// directory, then the configured guest address.
func (u *sessionUC) resolveCustomer(ctx context.Context, in CreateSessionInput, log *zerolog.Logger) model.Customer {
	c := in.Customer
	if c.ID == "" {
		c.ID = in.UserID
	}
	if strings.TrimSpace(c.Email) == "" && in.UserID != "" && u.customers != nil {
		acct, err := u.customers.ResolveCustomer(ctx, in.UserID)
		if err != nil {
			log.Warn().Err(err).Msg("resolve customer failed")
		} else {
			c.Email = acct.Email
			if c.Name == "" {
				c.Name = acct.Name
			}
		}
	}
	if strings.TrimSpace(c.Email) == "" {
		c.Email = u.cfg.GuestEmail
	}
	return c
}

func (u *sessionUC) fail(ctx context.Context, s *model.PaymentSession, reason string, log *zerolog.Logger) {
	res, err := u.sm.Apply(ctx, TransitionRequest{SessionID: s.ID, Target: model.PaymentStatusFailed, Reason: reason})
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("mark session failed")
		return
	}
	if res.Session != nil {
		*s = *res.Session
	}
}

func (u *sessionUC) webhookURL(p model.Provider) string {
	if u.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/payments/" + string(p) + "/webhook"
}
