//go:build !integration

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"payment-reconciler/internal/infra/web"
)

const testSecret = "cli-test-secret"

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenIsAcceptedByAdminAuth(t *testing.T) {
	out, err := execute("token", "--secret", testSecret, "--as", "ops")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out))
	claims, err := web.NewAuthManager(testSecret, time.Minute).ParseFromRequest(req)
	if err != nil || claims.Subject != "ops" {
		t.Fatalf("claims %+v err %v", claims, err)
	}
}

func TestCommandsHitAdminRoutes(t *testing.T) {
	auth := web.NewAuthManager(testSecret, time.Minute)
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		got = append(got, r.Method+" "+r.URL.RequestURI()+" "+r.Header.Get("X-Kashier-Signature"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(body, []byte(`{"event":"pay"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"session", "get", "s-1"}, "GET /admin/sessions/s-1 "},
		{[]string{"fulfillments", "list", "--state", "exhausted", "--limit", "5"}, "GET /admin/fulfillments?limit=5&state=exhausted "},
		{[]string{"fulfillments", "retry", "s-1"}, "POST /admin/sessions/s-1/fulfillment/retry "},
		{[]string{"replay", "kashier", "-f", body, "-H", "X-Kashier-Signature: abc"}, "POST /admin/notifications/kashier/replay?kind=webhook abc"},
	}
	for i, c := range cases {
		out, err := execute(append([]string{"--addr", srv.URL, "--secret", testSecret}, c.args...)...)
		if err != nil {
			t.Fatalf("%v: %v", c.args, err)
		}
		if got[i] != c.want {
			t.Errorf("request %d = %q, want %q", i, got[i], c.want)
		}
		if !strings.Contains(out, `"ok": true`) {
			t.Errorf("output %q", out)
		}
	}

	if _, err := execute("--addr", srv.URL, "--secret", "wrong", "session", "get", "s-1"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestClientRequiresCredentials(t *testing.T) {
	o := &options{addr: "http://unused"}
	if _, err := o.client(); err == nil {
		t.Fatal("expected error without token or secret")
	}
}
