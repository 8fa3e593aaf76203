package payment_test

import (
	"errors"
	"testing"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/infra/adapters/payment"
	"payment-reconciler/internal/usecase"
)

func TestKashierWebhookNormalizer(t *testing.T) {
	n := payment.KashierWebhookNormalizer{}

	t.Run("paid", func(t *testing.T) {
		got, err := n.Normalize([]byte(`{"event":"pay","data":{"sessionId":"ks_1","merchantOrderId":"s-1","transactionId":"t1","status":"SUCCESS","amount":"100.00","currency":"egp"}}`))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if got.ExternalReference != "ks_1" || got.MerchantOrderID != "s-1" || got.ReportedStatus != model.PaymentStatusPaid {
			t.Fatalf("got %+v", got)
		}
		if got.Amount == nil || *got.Amount != 10000 || got.Currency != "EGP" {
			t.Fatalf("amount %v currency %s", got.Amount, got.Currency)
		}
	})

	t.Run("numeric amount hashes like string amount", func(t *testing.T) {
		a, _ := n.Normalize([]byte(`{"event":"pay","data":{"sessionId":"ks_1","transactionId":"t1","status":"SUCCESS","amount":100,"currency":"EGP"}}`))
		b, _ := n.Normalize([]byte(`{"event":"pay","data":{"sessionId":"ks_1","transactionId":"t1","status":"SUCCESS","amount":"100.00","currency":"EGP","retry":2}}`))
		if a.DedupeKey() != b.DedupeKey() {
			t.Fatal("redelivery with a different envelope must share the dedupe key")
		}
	})

	t.Run("statuses", func(t *testing.T) {
		cases := []struct {
			event, status string
			want          model.PaymentStatus
			err           error
		}{
			{"pay", "FAILED", model.PaymentStatusFailed, nil},
			{"pay", "PENDING", model.PaymentStatusPending, nil},
			{"pay", "", "", domain.ErrMalformedNotification},
			{"refund", "SUCCESS", model.PaymentStatusRefunded, nil},
			{"refund", "PENDING", "", domain.ErrIgnoredEvent},
			{"authorize", "SUCCESS", "", domain.ErrIgnoredEvent},
		}
		for _, c := range cases {
			body := `{"event":"` + c.event + `","data":{"sessionId":"ks_1","status":"` + c.status + `"}}`
			got, err := n.Normalize([]byte(body))
			if c.err != nil {
				if !errors.Is(err, c.err) {
					t.Errorf("%s/%s: err %v, want %v", c.event, c.status, err, c.err)
				}
				continue
			}
			if err != nil || got.ReportedStatus != c.want {
				t.Errorf("%s/%s: got %+v err %v", c.event, c.status, got, err)
			}
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, body := range []string{`nope`, `{"event":"pay"}`, `{"event":"pay","data":{"status":"SUCCESS"}}`, `{"event":"pay","data":{"sessionId":"x","status":"SUCCESS","amount":"1.005","currency":"EGP"}}`} {
			if _, err := n.Normalize([]byte(body)); !errors.Is(err, domain.ErrMalformedNotification) {
				t.Errorf("%s: err %v", body, err)
			}
		}
	})
}

func TestKashierCallbackNormalizer(t *testing.T) {
	n := payment.KashierCallbackNormalizer{}
	got, err := n.Normalize([]byte(`{"paymentStatus":"SUCCESS","merchantOrderId":"s-1","orderId":"ks_1","amount":"100.00","currency":"EGP","transactionId":"t1"}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Provider != model.ProviderKashierLegacy || got.Trust != model.TrustReduced || got.ReportedStatus != model.PaymentStatusPaid {
		t.Fatalf("got %+v", got)
	}
	if _, err := n.Normalize([]byte(`{"paymentStatus":"PENDING","orderId":"ks_1"}`)); !errors.Is(err, domain.ErrIgnoredEvent) {
		t.Fatalf("pending: %v", err)
	}
	if _, err := n.Normalize([]byte(`{"paymentStatus":"SUCCESS"}`)); !errors.Is(err, domain.ErrMalformedNotification) {
		t.Fatalf("missing order: %v", err)
	}
}

func stripeEvent(typ, object string) []byte {
	return []byte(`{"id":"evt_1","object":"event","type":"` + typ + `","data":{"object":` + object + `}}`)
}

func TestStripeWebhookNormalizer(t *testing.T) {
	n := payment.StripeWebhookNormalizer{}
	session := `{"id":"cs_1","object":"checkout.session","client_reference_id":"s-1","amount_total":2500,"currency":"usd","payment_status":"paid"}`

	got, err := n.Normalize(stripeEvent("checkout.session.completed", session))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.ExternalReference != "cs_1" || got.MerchantOrderID != "s-1" || got.ProviderEventID != "evt_1" {
		t.Fatalf("got %+v", got)
	}
	if got.ReportedStatus != model.PaymentStatusPaid || *got.Amount != 2500 || got.Currency != "USD" {
		t.Fatalf("got %+v", got)
	}

	unpaid := `{"id":"cs_1","object":"checkout.session","amount_total":2500,"currency":"usd","payment_status":"unpaid"}`
	if got, _ := n.Normalize(stripeEvent("checkout.session.completed", unpaid)); got.ReportedStatus != model.PaymentStatusPending {
		t.Fatalf("unpaid completion: %+v", got)
	}
	if got, _ := n.Normalize(stripeEvent("checkout.session.expired", unpaid)); got.ReportedStatus != model.PaymentStatusExpired {
		t.Fatalf("expired: %+v", got)
	}
	if _, err := n.Normalize(stripeEvent("charge.refunded", `{"id":"ch_1"}`)); !errors.Is(err, domain.ErrIgnoredEvent) {
		t.Fatalf("charge event: %v", err)
	}
	if _, err := n.Normalize([]byte(`{"type":"checkout.session.completed"}`)); !errors.Is(err, domain.ErrMalformedNotification) {
		t.Fatalf("missing id: %v", err)
	}
}

func TestVariants(t *testing.T) {
	v := payment.Variants(config.PaymentConfig{Kashier: config.KashierConfig{APIKey: "k"}})

	kw := v[usecase.VariantKey{Provider: "kashier", Kind: model.KindWebhook}]
	if kw.Verifier == nil || kw.Secret != "k" {
		t.Fatalf("kashier webhook variant %+v", kw)
	}
	if cb := v[usecase.VariantKey{Provider: "kashier", Kind: model.KindCallback}]; !cb.Disabled || cb.Verifier != nil {
		t.Fatalf("legacy callback must be disabled and unsigned: %+v", cb)
	}
	if _, ok := v[usecase.VariantKey{Provider: "stripe", Kind: model.KindCallback}]; ok {
		t.Fatal("stripe has no callback variant")
	}

	v = payment.Variants(config.PaymentConfig{LegacyCallbackEnabled: true, Kashier: config.KashierConfig{APIKey: "k", WebhookSecret: "w"}})
	if v[usecase.VariantKey{Provider: "kashier", Kind: model.KindCallback}].Disabled {
		t.Fatal("legacy callback should be enabled")
	}
	if v[usecase.VariantKey{Provider: "kashier", Kind: model.KindWebhook}].Secret != "w" {
		t.Fatal("dedicated webhook secret should win")
	}
}

func TestGateways(t *testing.T) {
	gws, err := payment.Gateways(config.PaymentConfig{UseNoopGateway: true})
	if err != nil || len(gws) != 2 {
		t.Fatalf("noop gateways: %v %v", gws, err)
	}
	if _, err := payment.Gateways(config.PaymentConfig{}); err == nil {
		t.Fatal("expected error with no provider configured")
	}
	gws, err = payment.Gateways(config.PaymentConfig{Stripe: config.StripeConfig{SecretKey: "sk_test"}})
	if err != nil {
		t.Fatalf("Gateways: %v", err)
	}
	if _, ok := gws[model.ProviderKashier]; ok {
		t.Fatal("kashier without merchant id must be left out")
	}
}
