package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hanko-field/storefront/internal/domain"
)

// Logger receives structured gateway events.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey  string
	Timeout time.Duration
	Logger  Logger
	Clock   func() time.Time

	sessions stripeSessionAPI
}

// StripeGateway creates and reads Stripe Checkout sessions.
type StripeGateway struct {
	sessions stripeSessionAPI
	clock    func() time.Time
	logger   Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway builds a gateway whose HTTP calls are traced through otelhttp.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	sessions := cfg.sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient := &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		sessions = client.New(apiKey, stripe.NewBackends(httpClient)).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		sessions: sessions,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreateSession creates a payment-mode Checkout session for the order.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (domain.GatewaySession, error) {
	if len(req.Items) == 0 {
		return domain.GatewaySession{}, errors.New("stripe: at least one line item is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{domain.PaymentTypeCard}),
		ClientReferenceID:  stripe.String(req.OrderID),
		Metadata: map[string]string{
			"order_id":   req.OrderID,
			"account_id": req.AccountID,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return domain.GatewaySession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"amount":    session.AmountTotal,
	})
	return g.toDomain(session), nil
}

// RetrieveSession fetches the authoritative session state.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (domain.GatewaySession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.GatewaySession{}, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.sessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound) {
			return domain.GatewaySession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return domain.GatewaySession{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	return g.toDomain(session), nil
}

func (g *StripeGateway) toDomain(session *stripe.CheckoutSession) domain.GatewaySession {
	out := sessionFromStripe(session)
	if out.ExpiresAt.IsZero() {
		out.ExpiresAt = g.clock().Add(24 * time.Hour)
	}
	return out
}

func sessionFromStripe(session *stripe.CheckoutSession) domain.GatewaySession {
	if session == nil {
		return domain.GatewaySession{}
	}
	out := domain.GatewaySession{
		ID:            session.ID,
		URL:           session.URL,
		State:         domain.SessionState(session.Status),
		PaymentStatus: domain.SessionPaymentStatus(session.PaymentStatus),
		AmountTotal:   session.AmountTotal,
		Currency:      strings.ToLower(string(session.Currency)),
		Metadata:      session.Metadata,
	}
	if session.ExpiresAt != 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out
}
