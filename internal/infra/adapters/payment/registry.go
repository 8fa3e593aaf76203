package payment

import (
	"fmt"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
	"payment-reconciler/internal/infra/signature"
	"payment-reconciler/internal/usecase"
)

// Header names are matched lower-case.
var (
	kashierSignatureHeaders = []string{"x-kashier-signature", "kashier-signature"}
	stripeSignatureHeaders  = []string{"stripe-signature"}
)

// Gateways builds one checkout gateway per configured provider. A provider
// without credentials is left out, so creating sessions for it fails as an
// unknown provider.
func Gateways(cfg config.PaymentConfig) (map[model.Provider]adapter.ProviderGateway, error) {
	out := make(map[model.Provider]adapter.ProviderGateway, 2)
	if cfg.UseNoopGateway {
		out[model.ProviderKashier] = NewNoopPaymentGateway(model.ProviderKashier)
		out[model.ProviderStripe] = NewNoopPaymentGateway(model.ProviderStripe)
		return out, nil
	}
	if cfg.Kashier.MerchantID != "" {
		gw, err := NewKashierGateway(cfg.Kashier, cfg.ProviderTimeout)
		if err != nil {
			return nil, fmt.Errorf("kashier gateway: %w", err)
		}
		out[model.ProviderKashier] = gw
	}
	if cfg.Stripe.SecretKey != "" {
		gw, err := NewStripeGateway(cfg.Stripe)
		if err != nil {
			return nil, fmt.Errorf("stripe gateway: %w", err)
		}
		out[model.ProviderStripe] = gw
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no payment provider configured")
	}
	return out, nil
}

// Variants lists every notification shape the service accepts, keyed by the
// provider path segment and delivery kind.
func Variants(cfg config.PaymentConfig) map[usecase.VariantKey]usecase.NotificationVariant {
	return map[usecase.VariantKey]usecase.NotificationVariant{
		{Provider: string(model.ProviderKashier), Kind: model.KindWebhook}: {
			Provider:         model.ProviderKashier,
			Normalizer:       KashierWebhookNormalizer{},
			Verifier:         signature.HMACVerifier{},
			Secret:           kashierWebhookSecret(cfg.Kashier),
			SignatureHeaders: kashierSignatureHeaders,
		},
		{Provider: string(model.ProviderKashier), Kind: model.KindCallback}: {
			Provider:   model.ProviderKashierLegacy,
			Normalizer: KashierCallbackNormalizer{},
			Disabled:   !cfg.LegacyCallbackEnabled,
		},
		{Provider: string(model.ProviderStripe), Kind: model.KindWebhook}: {
			Provider:         model.ProviderStripe,
			Normalizer:       StripeWebhookNormalizer{},
			Verifier:         signature.StripeVerifier{},
			Secret:           cfg.Stripe.WebhookSecret,
			SignatureHeaders: stripeSignatureHeaders,
		},
	}
}

// Kashier signs webhooks with the payment API key unless a dedicated
// webhook secret is configured.
func kashierWebhookSecret(k config.KashierConfig) string {
	if k.WebhookSecret != "" {
		return k.WebhookSecret
	}
	return k.APIKey
}
