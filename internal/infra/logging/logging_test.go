//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"payment-reconciler/internal/config"
)

func TestWithAttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, false, &buf)

	ctx := WithTraceID(context.Background(), "t-1")
	ctx = WithSessionID(ctx, "s-1")
	ctx = WithProvider(ctx, "kashier")
	With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{"trace_id": "t-1", "session_id": "s-1", "provider": "kashier"} {
		if line[k] != want {
			t.Errorf("expected %s=%s, got %v", k, want, line[k])
		}
	}
}

func TestLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "nonsense"}, false, &buf)
	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug to be filtered at info level, got %q", buf.String())
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("customer@example.com", false); got != "cust...om" {
		t.Errorf("unexpected redaction: %s", got)
	}
	if got := Redact("a@x.com", false); got != "***" {
		t.Errorf("expected short values fully hidden, got %s", got)
	}
	if got := Redact("a@x.com", true); got != "a@x.com" {
		t.Errorf("expected dev mode to keep value, got %s", got)
	}
}
