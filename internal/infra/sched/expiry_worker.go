package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/infra/metrics"
	"payment-reconciler/internal/usecase"
)

// ExpiryWorker periodically closes sessions whose TTL elapsed.
type ExpiryWorker struct {
	interval time.Duration
	sessions usecase.SessionUseCase
	now      func() time.Time
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, sessions usecase.SessionUseCase, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{interval: interval, sessions: sessions, now: time.Now, log: &l}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ExpiryWorker) tick(ctx context.Context) {
	n, err := w.sessions.ExpireStale(ctx, w.now())
	if err != nil {
		w.log.Error().Err(err).Msg("expiry sweep failed")
	}
	if n > 0 {
		metrics.AddSwept("expiry", n)
		w.log.Info().Int("count", n).Msg("stale sessions closed")
	}
}
