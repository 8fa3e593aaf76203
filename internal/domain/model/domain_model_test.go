//go:build !integration

package model

import (
	"errors"
	"testing"

	"payment-reconciler/internal/domain"
)

// --- PaymentSession Tests ---

func TestNewPaymentSession(t *testing.T) {
	cust := Customer{ID: "u-1", Name: "A", Email: "a@x.com"}

	t.Run("should create a session in created state", func(t *testing.T) {
		s, err := NewPaymentSession(ProviderKashier, SubjectRef{CourseID: "C1"}, 10000, "egp", cust)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if s.ID == "" {
			t.Error("expected session ID to be non-empty")
		}
		if s.Status != PaymentStatusCreated {
			t.Errorf("expected status created, got %s", s.Status)
		}
		if s.Currency != "EGP" {
			t.Errorf("expected currency to be upper-cased, got %s", s.Currency)
		}
		if s.FulfillmentState != FulfillmentNotApplicable {
			t.Errorf("expected fulfillment state not_applicable, got %s", s.FulfillmentState)
		}
	})

	t.Run("should map the legacy provider to kashier", func(t *testing.T) {
		s, err := NewPaymentSession(ProviderKashierLegacy, SubjectRef{ProductID: "P1"}, 1, "EGP", cust)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Provider != ProviderKashier {
			t.Errorf("expected kashier, got %s", s.Provider)
		}
	})

	cases := []struct {
		name     string
		subject  SubjectRef
		amount   int64
		currency string
		email    string
	}{
		{"both subjects", SubjectRef{CourseID: "C1", ProductID: "P1"}, 100, "EGP", "a@x.com"},
		{"no subject", SubjectRef{}, 100, "EGP", "a@x.com"},
		{"zero amount", SubjectRef{CourseID: "C1"}, 0, "EGP", "a@x.com"},
		{"negative amount", SubjectRef{CourseID: "C1"}, -5, "EGP", "a@x.com"},
		{"bad currency", SubjectRef{CourseID: "C1"}, 100, "EG", "a@x.com"},
		{"missing email", SubjectRef{CourseID: "C1"}, 100, "EGP", "  "},
		{"invalid email", SubjectRef{CourseID: "C1"}, 100, "EGP", "not-an-email"},
	}
	for _, tc := range cases {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			s, err := NewPaymentSession(ProviderKashier, tc.subject, tc.amount, tc.currency, Customer{Email: tc.email})
			if s != nil {
				t.Error("expected nil session on error")
			}
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	allowed := map[[2]PaymentStatus]bool{
		{PaymentStatusCreated, PaymentStatusPending}: true,
		{PaymentStatusCreated, PaymentStatusFailed}:  true,
		{PaymentStatusPending, PaymentStatusPaid}:    true,
		{PaymentStatusPending, PaymentStatusFailed}:  true,
		{PaymentStatusPending, PaymentStatusExpired}: true,
		{PaymentStatusPaid, PaymentStatusRefunded}:   true,
	}
	all := []PaymentStatus{
		PaymentStatusCreated, PaymentStatusPending, PaymentStatusPaid,
		PaymentStatusFailed, PaymentStatusExpired, PaymentStatusRefunded,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]PaymentStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}

	if PaymentStatusPending.IsTerminal() {
		t.Error("pending must not be terminal")
	}
	if !PaymentStatusExpired.IsTerminal() {
		t.Error("expired must be terminal")
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" Stripe ")
	if err != nil || p != ProviderStripe {
		t.Fatalf("expected stripe, got %q (%v)", p, err)
	}
	if _, err := ParseProvider("paypal"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// --- Money Tests ---

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in       string
		currency string
		want     int64
		wantErr  bool
	}{
		{"100", "EGP", 10000, false},
		{"100.5", "EGP", 10050, false},
		{"1500", "JPY", 1500, false},
		{"1.234", "KWD", 1234, false},
		{"1.005", "EGP", 0, true},
		{"abc", "EGP", 0, true},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(tc.in, tc.currency)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s %s: expected error", tc.in, tc.currency)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s %s: expected %d, got %d (%v)", tc.in, tc.currency, tc.want, got, err)
		}
	}

	if got := FormatMajor(10050, "EGP"); got != "100.50" {
		t.Errorf("expected 100.50, got %s", got)
	}
	if got := FormatMajor(1500, "JPY"); got != "1500" {
		t.Errorf("expected 1500, got %s", got)
	}
}

// --- Notification Tests ---

func TestNotificationDedupeKey(t *testing.T) {
	amt := int64(10000)
	a := NormalizedPayload("pay", PaymentStatusPaid, &amt, "egp")
	b := NormalizedPayload("pay", PaymentStatusPaid, &amt, "EGP")
	if string(a) != string(b) {
		t.Fatalf("expected canonical forms to match: %s vs %s", a, b)
	}

	n1 := &Notification{Provider: ProviderKashier, ExternalReference: "ref", ProviderEventID: "tx1", Canonical: a}
	n2 := &Notification{Provider: ProviderKashier, ExternalReference: "ref", ProviderEventID: "tx1", Canonical: b}
	if n1.DedupeKey() != n2.DedupeKey() {
		t.Error("expected identical keys for equivalent payloads")
	}

	n3 := *n1
	n3.Provider = ProviderKashierLegacy
	if n3.DedupeKey() == n1.DedupeKey() {
		t.Error("expected provider to be part of the key")
	}

	n4 := *n1
	n4.Canonical = NormalizedPayload("pay", PaymentStatusFailed, &amt, "EGP")
	if n4.DedupeKey() == n1.DedupeKey() {
		t.Error("expected a different outcome to produce a different key")
	}
}
