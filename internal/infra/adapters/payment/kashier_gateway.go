// File: internal/infra/adapters/payment/kashier_gateway.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.ProviderGateway = (*KashierGateway)(nil)

// KashierGateway opens hosted payment sessions through the Kashier v3 API.
type KashierGateway struct {
	cfg    config.KashierConfig
	client *resty.Client
}

func NewKashierGateway(cfg config.KashierConfig, timeout time.Duration) (*KashierGateway, error) {
	if cfg.MerchantID == "" {
		return nil, errors.New("kashier merchant id empty")
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", cfg.SecretKey).
		SetHeader("api-key", cfg.APIKey)
	return &KashierGateway{cfg: cfg, client: c}, nil
}

func (g *KashierGateway) Provider() model.Provider { return model.ProviderKashier }

type kashierSessionRequest struct {
	ExpireAt         string          `json:"expireAt"`
	PaymentType      string          `json:"paymentType"`
	Amount           string          `json:"amount"`
	Currency         string          `json:"currency"`
	Order            string          `json:"order"`
	MerchantID       string          `json:"merchantId"`
	MerchantRedirect string          `json:"merchantRedirect,omitempty"`
	ServerWebhook    string          `json:"serverWebhook,omitempty"`
	Type             string          `json:"type"`
	Description      string          `json:"description,omitempty"`
	Customer         kashierCustomer `json:"customer"`
}

type kashierCustomer struct {
	Email     string `json:"email"`
	Reference string `json:"reference,omitempty"`
}

type kashierSessionResponse struct {
	ID         string `json:"_id"`
	SessionURL string `json:"sessionUrl"`
	Status     string `json:"status"`
}

type kashierError struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// CreateSession calls POST /v3/payment/sessions and returns the session id as
// the external reference.
func (g *KashierGateway) CreateSession(ctx context.Context, req adapter.CreateSessionRequest) (adapter.CreateSessionResult, error) {
	body := kashierSessionRequest{
		ExpireAt:         req.ExpiresAt.UTC().Format(time.RFC3339),
		PaymentType:      "credit",
		Amount:           model.FormatMajor(req.Amount, req.Currency),
		Currency:         req.Currency,
		Order:            req.SessionID,
		MerchantID:       g.cfg.MerchantID,
		MerchantRedirect: g.cfg.RedirectURL,
		ServerWebhook:    req.WebhookURL,
		Type:             "one-time",
		Description:      fmt.Sprintf("%s %s", req.Subject.Kind(), req.Subject.ID()),
		Customer:         kashierCustomer{Email: req.Customer.Email, Reference: req.Customer.ID},
	}

	var out kashierSessionResponse
	var apiErr kashierError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v3/payment/sessions")
	if err != nil {
		return adapter.CreateSessionResult{}, fmt.Errorf("kashier request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return adapter.CreateSessionResult{}, fmt.Errorf("kashier http %d: %s", resp.StatusCode(), msg)
	}
	if out.ID == "" {
		return adapter.CreateSessionResult{}, errors.New("kashier: response missing session id")
	}
	return adapter.CreateSessionResult{ExternalReference: out.ID, CheckoutURL: out.SessionURL}, nil
}
