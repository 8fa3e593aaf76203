package payment

import (
	"context"
	"fmt"
	"sync"

	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var _ adapter.ProviderGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for dev mode and tests.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	provider model.Provider
	seq      int64
	sessions map[string]adapter.CreateSessionRequest // reference -> request

	// FailWith, when set, is returned by CreateSession.
	FailWith error
}

func NewNoopPaymentGateway(provider model.Provider) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		provider: provider,
		sessions: make(map[string]adapter.CreateSessionRequest),
	}
}

func (g *NoopPaymentGateway) Provider() model.Provider { return g.provider }

func (g *NoopPaymentGateway) CreateSession(ctx context.Context, req adapter.CreateSessionRequest) (adapter.CreateSessionResult, error) {
	if err := ctx.Err(); err != nil {
		return adapter.CreateSessionResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailWith != nil {
		return adapter.CreateSessionResult{}, g.FailWith
	}
	g.seq++
	ref := fmt.Sprintf("noop-%s-%d", g.provider, g.seq)
	g.sessions[ref] = req
	return adapter.CreateSessionResult{ExternalReference: ref, CheckoutURL: "https://example.test/pay/" + ref}, nil
}

// Request returns what was sent for ref.
func (g *NoopPaymentGateway) Request(ref string) (adapter.CreateSessionRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.sessions[ref]
	return r, ok
}
