package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/infra/logging"
	"payment-reconciler/internal/infra/redis"
	"payment-reconciler/internal/usecase"
)

type createRequest struct {
	CourseID  string          `json:"courseId"`
	ProductID string          `json:"productId"`
	Amount    int64           `json:"amount"` // minor units
	Currency  string          `json:"currency"`
	Customer  *model.Customer `json:"customer"`
}

type sessionResponse struct {
	ID                string                 `json:"id"`
	Provider          model.Provider         `json:"provider"`
	Status            model.PaymentStatus    `json:"status"`
	FulfillmentState  model.FulfillmentState `json:"fulfillmentState"`
	ExternalReference string                 `json:"externalReference,omitempty"`
	CheckoutURL       string                 `json:"checkoutUrl,omitempty"`
	CourseID          string                 `json:"courseId,omitempty"`
	ProductID         string                 `json:"productId,omitempty"`
	Amount            int64                  `json:"amount"`
	Currency          string                 `json:"currency"`
	CreatedAt         time.Time              `json:"createdAt"`
	PaidAt            *time.Time             `json:"paidAt,omitempty"`
}

func toSessionResponse(s *model.PaymentSession) sessionResponse {
	return sessionResponse{
		ID:                s.ID,
		Provider:          s.Provider,
		Status:            s.Status,
		FulfillmentState:  s.FulfillmentState,
		ExternalReference: s.ExternalReference,
		CheckoutURL:       s.CheckoutURL,
		CourseID:          s.Subject.CourseID,
		ProductID:         s.Subject.ProductID,
		Amount:            s.Amount,
		Currency:          s.Currency,
		CreatedAt:         s.CreatedAt,
		PaidAt:            s.PaidAt,
	}
}

// notifyResponse is the acknowledgement body providers receive.
type notifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	ctx := logging.WithProvider(r.Context(), string(provider))
	if userID != "" {
		ctx = logging.WithUserID(ctx, userID)
	}
	in := usecase.CreateSessionInput{
		Provider: provider,
		Subject:  model.SubjectRef{CourseID: req.CourseID, ProductID: req.ProductID},
		Amount:   req.Amount,
		Currency: req.Currency,
		UserID:   userID,
	}
	if req.Customer != nil {
		in.Customer = *req.Customer
	}

	sess, err := s.sessions.CreateSession(ctx, in)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out")
	default:
		l := logging.With(ctx, s.log)
		l.Error().Err(err).Msg("create session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleNotification always answers 200; the body carries the outcome.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	ctx := logging.WithProvider(r.Context(), provider)
	defer func() {
		if rec := recover(); rec != nil {
			l := logging.With(ctx, s.log)
			l.Error().Interface("panic", rec).Msg("panic in notification handler")
			writeJSON(w, http.StatusOK, notifyResponse{Success: false, Message: "internal error"})
		}
	}()

	kind := model.KindWebhook
	if strings.HasSuffix(r.URL.Path, "/callback") {
		kind = model.KindCallback
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Warn().Err(err).Msg("read notification body")
		writeJSON(w, http.StatusOK, notifyResponse{Success: false, Message: "unreadable body"})
		return
	}

	res := s.ingest.Ingest(ctx, usecase.IngestRequest{
		Provider: provider,
		Kind:     kind,
		Body:     body,
		Headers:  lowerHeaders(r.Header),
	})
	writeJSON(w, http.StatusOK, notifyResponse{Success: res.Success, Message: res.Message})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rateLimit applies the create quota per caller. Limiter errors let the request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.opts.CreatePerWindow <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ok, err := s.limiter.Allow(r.Context(), redis.CreateSessionKey(clientKey(r)), s.opts.CreatePerWindow, s.opts.Window)
		if err != nil {
			l := logging.With(r.Context(), s.log)
			l.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.Window.Seconds())))
			writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-User-ID")); u != "" {
		return "user:" + u
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
