package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"payment-reconciler/internal/infra/metrics"
	"payment-reconciler/internal/usecase"
)

// Server is the operator API. Every route requires a bearer token.
type Server struct {
	admin usecase.AdminUseCase
	auth  *AuthManager
	log   *zerolog.Logger
}

func NewServer(admin usecase.AdminUseCase, auth *AuthManager, logger *zerolog.Logger) *Server {
	return &Server{admin: admin, auth: auth, log: logger}
}

// RegisterRoutes mounts the admin routes under /admin.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/sessions/{id}", s.sessionDetail)
		r.Post("/sessions/{id}/fulfillment/retry", s.retryFulfillment)
		r.Get("/fulfillments", s.listFulfillments)
		r.Post("/notifications/{provider}/replay", s.replay)
	})
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			s.log.Error().Msg("admin auth is not configured")
			metrics.IncAdminRequest("auth", "unauthorized")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			metrics.IncAdminRequest("auth", "unauthorized")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		s.log.Debug().Str("operator", claims.Subject).Str("path", r.URL.Path).Msg("admin request")
		next.ServeHTTP(w, r)
	})
}
