package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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
var _ IngestUseCase = (*ingestUC)(nil)

// VariantKey selects a notification variant by route segment and delivery kind.
type VariantKey struct {
	Provider string
	Kind     model.NotificationKind
}

// NotificationVariant binds one payload shape to its authentication method.
// A nil Verifier marks an unsigned variant; its notifications get reduced trust
// and must echo our order id, amount and currency.
type NotificationVariant struct {
	Provider         model.Provider
	Normalizer       adapter.Normalizer
	Verifier         adapter.SignatureVerifier
	Secret           string
	SignatureHeaders []string // lower-case; first non-empty wins
	Disabled         bool
}

type IngestRequest struct {
	Provider string
	Kind     model.NotificationKind
	Body     []byte
	Headers  map[string]string // lower-case names
}

// IngestResult is what the provider sees in the response body. Success is
// false when the delivery was rejected; transport status is 200 regardless.
type IngestResult struct {
	Success   bool                      `json:"success"`
	Message   string                    `json:"message"`
	Outcome   model.NotificationOutcome `json:"outcome"`
	SessionID string                    `json:"sessionId,omitempty"`
	Err       error                     `json:"-"`
}

type IngestUseCase interface {
	// Ingest processes one delivery end to end. It never returns an error;
	// failures are reported through the result.
	Ingest(ctx context.Context, req IngestRequest) IngestResult
}

type IngestConfig struct {
	DispatchTimeout time.Duration
}

type ingestUC struct {
	variants   map[VariantKey]NotificationVariant
	sessions   repository.PaymentSessionRepository
	events     repository.NotificationEventRepository
	sm         StateMachine
	dispatcher FulfillmentUseCase
	cfg        IngestConfig
	log        *zerolog.Logger
}

// NewIngestUseCase wires the notification pipeline. dispatcher may be nil,
// leaving queued grants to the retry worker.
func NewIngestUseCase(
	variants map[VariantKey]NotificationVariant,
	sessions repository.PaymentSessionRepository,
	events repository.NotificationEventRepository,
	sm StateMachine,
	dispatcher FulfillmentUseCase,
	cfg IngestConfig,
	logger *zerolog.Logger,
) *ingestUC {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 15 * time.Second
	}
	return &ingestUC{
		variants:   variants,
		sessions:   sessions,
		events:     events,
		sm:         sm,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        logger,
	}
}

func (u *ingestUC) Ingest(ctx context.Context, req IngestRequest) IngestResult {
	defer logging.TraceDuration(u.log, "IngestUC.Ingest")()
	start := time.Now()
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	log := logging.With(ctx, u.log).With().Str("provider", provider).Str("kind", string(req.Kind)).Logger()

	res := u.ingest(ctx, provider, req, &log)

	metrics.IncNotification(provider, string(req.Kind), string(res.Outcome))
	metrics.ObserveNotification(provider, time.Since(start))
	ev := log.Info()
	if !res.Success {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("outcome", string(res.Outcome)).Str("session_id", res.SessionID).Msg("notification processed")
	return res
}

func (u *ingestUC) ingest(ctx context.Context, provider string, req IngestRequest, log *zerolog.Logger) IngestResult {
	variant, ok := u.variants[VariantKey{Provider: provider, Kind: req.Kind}]
	if !ok || variant.Disabled {
		return reject(model.OutcomeUnsupported, "unsupported notification endpoint",
			fmt.Errorf("%w: %s/%s", domain.ErrUnknownProvider, provider, req.Kind))
	}
	digest := model.Digest(req.Body)

	n, err := variant.Normalizer.Normalize(req.Body)
	if errors.Is(err, domain.ErrIgnoredEvent) {
		return IngestResult{Success: true, Outcome: model.OutcomeIgnored, Message: "event ignored"}
	}
	if err != nil {
		u.audit(ctx, log, &model.NotificationEvent{
			Provider: variant.Provider, RawPayloadDigest: digest,
			Outcome: model.OutcomeRejectedMalformed, Detail: err.Error(),
		})
		return reject(model.OutcomeRejectedMalformed, "malformed notification", err)
	}

	ev := &model.NotificationEvent{
		Provider:          variant.Provider,
		ExternalReference: n.ExternalReference,
		ProviderEventID:   n.ProviderEventID,
		ReportedStatus:    n.ReportedStatus,
		RawPayloadDigest:  digest,
	}

	if variant.Verifier != nil {
		sig := firstHeader(req.Headers, variant.SignatureHeaders)
		if !variant.Verifier.Verify(req.Body, sig, variant.Secret) {
			ev.Outcome, ev.Detail = model.OutcomeRejectedSignature, "signature verification failed"
			u.audit(ctx, log, ev)
			return reject(model.OutcomeRejectedSignature, "signature verification failed", domain.ErrAuthenticationFailure)
		}
	} else {
		n.Trust = model.TrustReduced
	}

	s, err := u.sessions.FindByExternalReference(ctx, repository.NoTX, n.Provider.SessionProvider(), n.ExternalReference)
	if errors.Is(err, domain.ErrNotFound) {
		ev.Outcome, ev.Detail = model.OutcomeRejectedUnknown, "no session for reference"
		u.audit(ctx, log, ev)
		return reject(model.OutcomeRejectedUnknown, "unknown payment session",
			fmt.Errorf("%w: %s", domain.ErrUnknownSession, n.ExternalReference))
	}
	if err != nil {
		return reject(model.OutcomeError, "temporary failure", err)
	}
	ev.SessionID = s.ID
	ctx = logging.WithSessionID(ctx, s.ID)

	if err := crossCheck(n, s); err != nil {
		ev.Outcome, ev.Detail = model.OutcomeRejectedMismatch, err.Error()
		u.audit(ctx, log, ev)
		return IngestResult{Outcome: model.OutcomeRejectedMismatch, Message: "notification does not match session",
			SessionID: s.ID, Err: fmt.Errorf("%w: %v", domain.ErrAuthenticationFailure, err)}
	}

	ev.DedupeKey = n.DedupeKey()
	tr, err := u.sm.Apply(ctx, TransitionRequest{
		SessionID: s.ID,
		Target:    n.ReportedStatus,
		Event:     ev,
		Reason:    fmt.Sprintf("%s %s notification", variant.Provider, req.Kind),
	})
	switch {
	case errors.Is(err, domain.ErrDuplicateEvent):
		return IngestResult{Success: true, Outcome: model.OutcomeDuplicate, Message: "already processed", SessionID: s.ID}
	case errors.Is(err, domain.ErrInvalidTransition):
		msg := "no state change"
		if tr.LateSuccess {
			msg = "late success recorded for review"
		}
		return IngestResult{Success: true, Outcome: model.OutcomeNoOp, Message: msg, SessionID: s.ID}
	case err != nil:
		return reject(model.OutcomeError, "temporary failure", err)
	}

	if tr.FulfillmentQueued && u.dispatcher != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.DispatchTimeout)
		if err := u.dispatcher.Dispatch(dctx, s.ID); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("fulfillment deferred to retry worker")
		}
		cancel()
	}
	return IngestResult{Success: true, Outcome: model.OutcomeAccepted, Message: "ok", SessionID: s.ID}
}

// crossCheck compares what the provider reports with what we asked it to collect.
func crossCheck(n *model.Notification, s *model.PaymentSession) error {
	if n.MerchantOrderID != "" && n.MerchantOrderID != s.ID {
		return fmt.Errorf("%w: order id %q", domain.ErrAmountMismatch, n.MerchantOrderID)
	}
	if n.Trust == model.TrustReduced {
		if n.MerchantOrderID == "" {
			return fmt.Errorf("%w: unsigned callback without order id", domain.ErrAmountMismatch)
		}
		if n.Amount == nil || n.Currency == "" {
			return fmt.Errorf("%w: unsigned callback without amount", domain.ErrAmountMismatch)
		}
	}
	if n.Amount != nil && *n.Amount != s.Amount {
		return fmt.Errorf("%w: amount %d, expected %d", domain.ErrAmountMismatch, *n.Amount, s.Amount)
	}
	if n.Currency != "" && !strings.EqualFold(n.Currency, s.Currency) {
		return fmt.Errorf("%w: currency %s, expected %s", domain.ErrAmountMismatch, n.Currency, s.Currency)
	}
	return nil
}

// audit stores a keyless row for a rejected delivery. It never blocks the
// provider's retry of the same event.
func (u *ingestUC) audit(ctx context.Context, log *zerolog.Logger, ev *model.NotificationEvent) {
	ev.ID = ulid.Make().String()
	ev.DedupeKey = ""
	ev.ReceivedAt = time.Now().UTC()
	if err := u.events.Append(context.WithoutCancel(ctx), repository.NoTX, ev); err != nil {
		log.Warn().Err(err).Msg("audit notification failed")
	}
}

func reject(outcome model.NotificationOutcome, msg string, err error) IngestResult {
	return IngestResult{Outcome: outcome, Message: msg, Err: err}
}

func firstHeader(h map[string]string, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(h[n]); v != "" {
			return v
		}
	}
	return ""
}
