package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/infra/metrics"
	"payment-reconciler/internal/infra/worker"
	"payment-reconciler/internal/usecase"
)

// FulfillmentRetryWorker re-dispatches grants that failed or whose lease went
// stale. Jobs are claimed in the database, so several replicas can run it.
type FulfillmentRetryWorker struct {
	interval time.Duration
	uc       usecase.FulfillmentUseCase
	pool     *worker.Pool
	log      *zerolog.Logger
}

func NewFulfillmentRetryWorker(interval time.Duration, uc usecase.FulfillmentUseCase, pool *worker.Pool, logger *zerolog.Logger) *FulfillmentRetryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	l := logger.With().Str("component", "FulfillmentRetryWorker").Logger()
	return &FulfillmentRetryWorker{interval: interval, uc: uc, pool: pool, log: &l}
}

// Run owns the pool: it starts it and stops it on return.
func (w *FulfillmentRetryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting fulfillment retry worker")
	w.pool.Start(ctx)
	defer w.pool.Stop()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping fulfillment retry worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *FulfillmentRetryWorker) tick(ctx context.Context) {
	ids, err := w.uc.DueSessions(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("list due fulfillments failed")
		return
	}
	submitted := 0
	for _, id := range ids {
		err := w.pool.Submit(func(ctx context.Context) error {
			return w.uc.Dispatch(ctx, id)
		})
		if errors.Is(err, worker.ErrQueueFull) {
			// The rest stay due and are picked up next tick.
			w.log.Warn().Int("skipped", len(ids)-submitted).Msg("worker queue full")
			break
		}
		submitted++
	}
	if submitted > 0 {
		metrics.AddSwept("fulfillment_retry", submitted)
		w.log.Debug().Int("count", submitted).Msg("fulfillments re-dispatched")
	}
}
