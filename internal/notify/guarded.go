package notify

import (
	"context"
	"errors"

	"github.com/aurlink/waitlist/internal/engine"
)

var ErrCircuitOpen = errors.New("email provider circuit open")

// Guarded skips sends while the provider's circuit breaker is open and
// feeds every outcome back into it.
type Guarded struct {
	next    Notifier
	breaker *engine.CircuitBreaker
	key     string
}

func NewGuarded(next Notifier, breaker *engine.CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: breaker, key: "notify:" + next.Name()}
}

func (g *Guarded) Name() string { return g.next.Name() }

// BreakerKey is the circuit breaker name used for this provider.
func (g *Guarded) BreakerKey() string { return g.key }

func (g *Guarded) Send(ctx context.Context, msg Message) error {
	if _, ok := g.breaker.AllowRequest(ctx, g.key); !ok {
		return ErrCircuitOpen
	}
	if err := g.next.Send(ctx, msg); err != nil {
		g.breaker.RecordFailure(ctx, g.key)
		return err
	}
	g.breaker.RecordSuccess(ctx, g.key)
	return nil
}
