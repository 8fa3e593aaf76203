package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"payment-reconciler/internal/domain"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.CustomerResolver = (*Client)(nil)

// Client reads account profiles from the identity service.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("identity base url empty")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}, nil
}

type userProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (c *Client) ResolveCustomer(ctx context.Context, userID string) (model.Customer, error) {
	var out userProfile
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", userID).
		SetResult(&out).
		Get("/v1/users/{id}")
	if err != nil {
		return model.Customer{}, fmt.Errorf("identity request: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return model.Customer{}, domain.ErrNotFound
	case resp.IsError():
		return model.Customer{}, fmt.Errorf("identity http %d", resp.StatusCode())
	}
	if out.ID == "" {
		out.ID = userID
	}
	return model.Customer{ID: out.ID, Name: out.Name, Email: out.Email}, nil
}
