package responder

import (
	"context"
	"errors"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/pkg/resilience"
)

// Guarded wraps a responder in a circuit breaker. While the breaker is open
// calls fail fast with a ProviderError and the provider is not contacted.
type Guarded struct {
	provider string
	next     Responder
	breaker  *resilience.CircuitBreaker
}

// WithBreaker guards r with cb; provider names the upstream in errors
func WithBreaker(provider string, r Responder, cb *resilience.CircuitBreaker) *Guarded {
	return &Guarded{provider: provider, next: r, breaker: cb}
}

func (g *Guarded) Respond(ctx context.Context, history []models.Turn) (Reply, error) {
	var reply Reply
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		reply, err = g.next.Respond(ctx, history)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return Reply{}, &ProviderError{Provider: g.provider, Err: err}
	}
	return reply, err
}

// Breaker exposes the breaker for health reporting
func (g *Guarded) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
