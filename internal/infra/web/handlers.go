package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/infra/metrics"
	"payment-reconciler/internal/usecase"
)

func (s *Server) sessionDetail(w http.ResponseWriter, r *http.Request) {
	d, err := s.admin.SessionDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "session_detail", err)
		return
	}
	metrics.IncAdminRequest("session_detail", "authorized")
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) listFulfillments(w http.ResponseWriter, r *http.Request) {
	var states []model.FulfillmentJobState
	for _, raw := range r.URL.Query()["state"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				states = append(states, model.FulfillmentJobState(st))
			}
		}
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := s.admin.ListFulfillments(r.Context(), states, limit)
	if errors.Is(err, domain.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.fail(w, "list_fulfillments", err)
		return
	}
	metrics.IncAdminRequest("list_fulfillments", "authorized")
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs, "count": len(jobs)})
}

func (s *Server) retryFulfillment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.admin.RetryFulfillment(r.Context(), id)
	// A failed grant still re-armed the job; report it without a 5xx.
	if err != nil && !errors.Is(err, domain.ErrFulfillmentFailure) {
		s.fail(w, "retry_fulfillment", err)
		return
	}
	metrics.IncAdminRequest("retry_fulfillment", "authorized")
	resp := map[string]any{"sessionId": id, "delivered": err == nil}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	kind := model.KindWebhook
	if r.URL.Query().Get("kind") == string(model.KindCallback) {
		kind = model.KindCallback
	}
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	// The operator token must not look like a provider header.
	delete(headers, "authorization")

	res := s.admin.Replay(r.Context(), usecase.IngestRequest{
		Provider: chi.URLParam(r, "provider"),
		Kind:     kind,
		Body:     body,
		Headers:  headers,
	})
	metrics.IncAdminRequest("replay", "authorized")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncAdminRequest(action, "authorized")
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		metrics.IncAdminRequest(action, "authorized")
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		metrics.IncAdminRequest(action, "error")
		s.log.Error().Err(err).Str("action", action).Msg("admin request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
