package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/infra/adapters/payment"
)

func TestKashierGateway_CreateSession(t *testing.T) {
	var got map[string]any
	var auth, apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/payment/sessions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		auth, apiKey = r.Header.Get("Authorization"), r.Header.Get("api-key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"_id":"ks_123","sessionUrl":"https://payments.kashier.io/session/ks_123","status":"CREATED"}`))
	}))
	defer srv.Close()

	gw, err := payment.NewKashierGateway(config.KashierConfig{
		MerchantID: "MID-1", APIKey: "api", SecretKey: "secret", BaseURL: srv.URL, RedirectURL: "https://shop/return",
	}, time.Second)
	if err != nil {
		t.Fatalf("NewKashierGateway: %v", err)
	}

	res, err := gw.CreateSession(context.Background(), adapter.CreateSessionRequest{
		SessionID:  "s-1",
		Amount:     10000,
		Currency:   "EGP",
		Customer:   model.Customer{ID: "u1", Email: "a@x.com"},
		Subject:    model.SubjectRef{CourseID: "C1"},
		ExpiresAt:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		WebhookURL: "https://pay/payments/kashier/webhook",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if res.ExternalReference != "ks_123" || !strings.HasSuffix(res.CheckoutURL, "ks_123") {
		t.Fatalf("result %+v", res)
	}
	if auth != "secret" || apiKey != "api" {
		t.Fatalf("headers auth=%q api-key=%q", auth, apiKey)
	}
	want := map[string]any{
		"amount": "100.00", "currency": "EGP", "order": "s-1", "merchantId": "MID-1",
		"serverWebhook": "https://pay/payments/kashier/webhook", "expireAt": "2030-01-01T00:00:00Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestKashierGateway_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":"FAILURE","message":"upstream down"}`))
	}))
	defer srv.Close()

	gw, _ := payment.NewKashierGateway(config.KashierConfig{MerchantID: "MID-1", BaseURL: srv.URL}, time.Second)
	_, err := gw.CreateSession(context.Background(), adapter.CreateSessionRequest{SessionID: "s-1", Amount: 1, Currency: "EGP"})
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("got %v", err)
	}

	if _, err := payment.NewKashierGateway(config.KashierConfig{}, time.Second); err == nil {
		t.Fatal("expected error without merchant id")
	}
}

func TestNoopPaymentGateway(t *testing.T) {
	gw := payment.NewNoopPaymentGateway(model.ProviderStripe)
	res, err := gw.CreateSession(context.Background(), adapter.CreateSessionRequest{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if req, ok := gw.Request(res.ExternalReference); !ok || req.SessionID != "s-1" {
		t.Fatalf("request not recorded: %+v", req)
	}
	gw.FailWith = context.DeadlineExceeded
	if _, err := gw.CreateSession(context.Background(), adapter.CreateSessionRequest{}); err == nil {
		t.Fatal("expected FailWith error")
	}
}
