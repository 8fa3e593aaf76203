package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"golang.org/x/sync/errgroup"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/infra/adapters/catalog"
	"payment-reconciler/internal/infra/adapters/identity"
	"payment-reconciler/internal/infra/adapters/payment"
	"payment-reconciler/internal/infra/api"
	pg "payment-reconciler/internal/infra/db/postgres"
	"payment-reconciler/internal/infra/events"
	"payment-reconciler/internal/infra/logging"
	"payment-reconciler/internal/infra/metrics"
	red "payment-reconciler/internal/infra/redis"
	"payment-reconciler/internal/infra/sched"
	"payment-reconciler/internal/infra/web"
	"payment-reconciler/internal/infra/worker"
	"payment-reconciler/internal/usecase"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: noop catalog, console logs, relaxed validation")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	limiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	sessionRepo := pg.NewPaymentSessionRepoCacheDecorator(pg.NewPaymentSessionRepo(pool), redisClient, 0)
	eventRepo := pg.NewNotificationEventRepo(pool)
	jobRepo := pg.NewFulfillmentJobRepo(pool)

	// ---- Outbound adapters ----
	publisher := events.NewPublisher(cfg.Kafka, logger)
	defer publisher.Close()

	gateways, err := payment.Gateways(cfg.Payment)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateways")
	}

	var fulfiller adapter.Fulfiller
	if cfg.Fulfillment.CatalogURL == "" {
		logger.Warn().Msg("fulfillment.catalog_url not set; grants are logged only")
		fulfiller = catalog.NewNoopFulfiller(logger)
	} else {
		c, err := catalog.NewClient(cfg.Fulfillment.CatalogURL, cfg.Fulfillment.CatalogToken, cfg.Fulfillment.CallTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("catalog client")
		}
		fulfiller = c
	}

	var customers adapter.CustomerResolver
	if cfg.Identity.BaseURL != "" {
		c, err := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Token, cfg.Identity.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("identity client")
		}
		customers = c
	}

	// ---- Use cases ----
	sm := usecase.NewStateMachine(sessionRepo, eventRepo, jobRepo, txm, locker, publisher, cfg.Redis.LockTTL, logger)
	fulfillUC := usecase.NewFulfillmentUseCase(sessionRepo, jobRepo, txm, fulfiller, publisher, usecase.FulfillmentConfig{
		MaxAttempts: cfg.Fulfillment.MaxAttempts,
		BaseBackoff: cfg.Fulfillment.BaseBackoff,
		MaxBackoff:  cfg.Fulfillment.MaxBackoff,
		CallTimeout: cfg.Fulfillment.CallTimeout,
		ClaimTTL:    cfg.Fulfillment.ClaimTTL,
		BatchSize:   cfg.Fulfillment.BatchSize,
	}, logger)
	sessionUC := usecase.NewSessionUseCase(sessionRepo, gateways, customers, sm, usecase.SessionConfig{
		DefaultCurrency: cfg.Payment.DefaultCurrency,
		GuestEmail:      cfg.Payment.GuestEmail,
		SessionTTL:      cfg.Payment.SessionTTL,
		ProviderTimeout: cfg.Payment.ProviderTimeout,
		PublicBaseURL:   cfg.Server.PublicBaseURL,
		SweepBatch:      cfg.Fulfillment.BatchSize,
		Dev:             cfg.Runtime.Dev,
	}, logger)
	ingestUC := usecase.NewIngestUseCase(payment.Variants(cfg.Payment), sessionRepo, eventRepo, sm, fulfillUC, usecase.IngestConfig{
		DispatchTimeout: cfg.Fulfillment.CallTimeout,
	}, logger)
	adminUC := usecase.NewAdminUseCase(sessionRepo, eventRepo, jobRepo, fulfillUC, ingestUC, logger)

	// ---- HTTP ----
	publicSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(sessionUC, ingestUC, limiter, api.Options{
			RequestTimeout:  cfg.Server.RequestTimeout,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			CreatePerWindow: cfg.RateLimit.CreatePerWindow,
			Window:          cfg.RateLimit.Window,
		}, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminRouter := chi.NewRouter()
	adminRouter.Use(api.TraceID(), api.RequestLog(logger), api.Recover(logger), api.MaxBody(cfg.Server.MaxBodyBytes))
	web.NewServer(adminUC, web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL), logger).RegisterRoutes(adminRouter)
	adminSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:           adminRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{publicSrv, adminSrv} {
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("http listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down http servers")
		return errors.Join(publicSrv.Shutdown(shutdownCtx), adminSrv.Shutdown(shutdownCtx))
	})

	// ---- Background workers ----
	g.Go(func() error {
		return ignoreCancel(sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, sessionUC, logger).Run(gctx))
	})
	g.Go(func() error {
		w := sched.NewFulfillmentRetryWorker(cfg.Fulfillment.RetryInterval, fulfillUC, worker.NewPool(cfg.Fulfillment.Workers, logger), logger)
		return ignoreCancel(w.Run(gctx))
	})
	g.Go(func() error {
		reportPoolStats(gctx, pool)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
