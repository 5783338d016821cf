package payments

import (
	"context"
	"errors"

	"github.com/hanko-field/storefront/internal/domain"
)

var (
	// ErrSessionNotFound is returned when the gateway has no session with the given id.
	ErrSessionNotFound = errors.New("payments: session not found")
	// ErrGatewayUnavailable is returned while the circuit breaker rejects calls.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrInvalidSignature marks webhook payloads whose signature does not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedPayload marks signed webhook payloads that cannot be decoded.
	ErrMalformedPayload = errors.New("payments: malformed webhook payload")
)

// LineItem is one priced line shown on the hosted checkout page.
type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

// SessionRequest describes a hosted checkout session to create.
type SessionRequest struct {
	OrderID        string
	AccountID      string
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Items          []LineItem
}

// Gateway is the narrow contract the services depend on.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (domain.GatewaySession, error)
	RetrieveSession(ctx context.Context, sessionID string) (domain.GatewaySession, error)
}

// Webhook event types handled by the payment service.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutSessionAsyncFailed    = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired        = "checkout.session.expired"
)

// WebhookEvent is a verified gateway notification. Session is populated only
// for checkout.session.* events.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *domain.GatewaySession
}

// WebhookVerifier authenticates and decodes inbound webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (WebhookEvent, error)
}
