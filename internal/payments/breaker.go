package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hanko-field/storefront/internal/domain"
)

// BreakerSettings tunes the circuit breaker around the gateway.
type BreakerSettings struct {
	Name                string
	MaxHalfOpenRequests uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
	Logger              Logger
}

// BreakerGateway fails fast with ErrGatewayUnavailable while the wrapped
// gateway keeps failing. ErrSessionNotFound does not count as a failure.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[domain.GatewaySession]
}

var _ Gateway = (*BreakerGateway)(nil)

// NewBreakerGateway wraps next with a consecutive-failure breaker.
func NewBreakerGateway(next Gateway, settings BreakerSettings) (*BreakerGateway, error) {
	if next == nil {
		return nil, errors.New("payments: breaker requires a gateway")
	}
	name := settings.Name
	if name == "" {
		name = "payments-gateway"
	}
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	logger := settings.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	cb := gobreaker.NewCircuitBreaker[domain.GatewaySession](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxHalfOpenRequests,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSessionNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "payments.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return &BreakerGateway{next: next, breaker: cb}, nil
}

func (g *BreakerGateway) CreateSession(ctx context.Context, req SessionRequest) (domain.GatewaySession, error) {
	return g.execute(func() (domain.GatewaySession, error) {
		return g.next.CreateSession(ctx, req)
	})
}

func (g *BreakerGateway) RetrieveSession(ctx context.Context, sessionID string) (domain.GatewaySession, error) {
	return g.execute(func() (domain.GatewaySession, error) {
		return g.next.RetrieveSession(ctx, sessionID)
	})
}

func (g *BreakerGateway) execute(fn func() (domain.GatewaySession, error)) (domain.GatewaySession, error) {
	session, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.GatewaySession{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return session, err
}

// State reports the breaker state for health checks.
func (g *BreakerGateway) State() string {
	return g.breaker.State().String()
}
