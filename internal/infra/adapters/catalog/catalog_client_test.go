package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/infra/adapters/catalog"
)

func TestClient_GrantAccess(t *testing.T) {
	var calls int32
	var body map[string]string
	var key, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		key, auth = r.Header.Get("Idempotency-Key"), r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch n {
		case 1:
			w.WriteHeader(http.StatusCreated)
		case 2:
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c, err := catalog.NewClient(srv.URL, "tok", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	req := adapter.GrantRequest{IdempotencyKey: "s-1", Subject: model.SubjectRef{CourseID: "C1"}, CustomerEmail: "a@x.com"}

	if err := c.GrantAccess(context.Background(), req); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if key != "s-1" || auth != "Bearer tok" {
		t.Fatalf("headers key=%q auth=%q", key, auth)
	}
	if body["kind"] != "course" || body["subjectId"] != "C1" || body["customerEmail"] != "a@x.com" {
		t.Fatalf("body %v", body)
	}
	if err := c.GrantAccess(context.Background(), req); err != nil {
		t.Fatalf("repeat grant should succeed on 409: %v", err)
	}
	if err := c.GrantAccess(context.Background(), req); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := catalog.NewClient("", "", time.Second); err == nil {
		t.Fatal("expected error")
	}
}
