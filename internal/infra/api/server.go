package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"payment-reconciler/internal/domain/ports/repository"
	"payment-reconciler/internal/usecase"
)

type Options struct {
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CreatePerWindow int // 0 disables rate limiting
	Window          time.Duration
}

// Server exposes the public payment routes.
type Server struct {
	sessions usecase.SessionUseCase
	ingest   usecase.IngestUseCase
	limiter  repository.RateLimiter
	opts     Options
	log      *zerolog.Logger
}

// NewServer builds the public HTTP layer. limiter may be nil.
func NewServer(sessions usecase.SessionUseCase, ingest usecase.IngestUseCase, limiter repository.RateLimiter, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	return &Server{sessions: sessions, ingest: ingest, limiter: limiter, opts: opts, log: logger}
}

// Routes returns the router with every public endpoint attached.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), MaxBody(s.opts.MaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payments/{provider}", func(r chi.Router) {
		r.With(Recover(s.log), Timeout(s.opts.RequestTimeout), s.rateLimit).Post("/create", s.handleCreate)
		r.Post("/webhook", s.handleNotification)
		r.Post("/callback", s.handleNotification)
	})
	r.With(Recover(s.log)).Get("/sessions/{id}", s.handleGetSession)
	return r
}
