package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"payment-reconciler/internal/domain/ports/adapter"
)

var (
	_ adapter.Fulfiller = (*Client)(nil)
	_ adapter.Fulfiller = (*NoopFulfiller)(nil)
)

// Client grants course and product access through the catalog service.
// The catalog deduplicates on the Idempotency-Key header, so a repeated
// grant for one session is answered 200 or 409 and treated as success.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("catalog base url empty")
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}, nil
}

type grantBody struct {
	Kind          string `json:"kind"` // course | product
	SubjectID     string `json:"subjectId"`
	CustomerID    string `json:"customerId,omitempty"`
	CustomerEmail string `json:"customerEmail"`
	Reference     string `json:"reference"`
}

func (c *Client) GrantAccess(ctx context.Context, req adapter.GrantRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(grantBody{
			Kind:          req.Subject.Kind(),
			SubjectID:     req.Subject.ID(),
			CustomerID:    req.CustomerID,
			CustomerEmail: req.CustomerEmail,
			Reference:     req.IdempotencyKey,
		}).
		Post("/v1/grants")
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	switch {
	case resp.IsSuccess(), resp.StatusCode() == http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("catalog http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
}

// NoopFulfiller logs grants instead of calling the catalog. Dev mode only.
type NoopFulfiller struct {
	log *zerolog.Logger
}

func NewNoopFulfiller(logger *zerolog.Logger) *NoopFulfiller {
	return &NoopFulfiller{log: logger}
}

func (f *NoopFulfiller) GrantAccess(_ context.Context, req adapter.GrantRequest) error {
	f.log.Info().
		Str("session_id", req.IdempotencyKey).
		Str("subject", req.Subject.Kind()+":"+req.Subject.ID()).
		Msg("noop grant")
	return nil
}
