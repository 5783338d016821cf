package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeWebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

var _ WebhookVerifier = (*StripeWebhookVerifier)(nil)

// NewStripeWebhookVerifier returns a verifier using Stripe's default replay tolerance.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

// Verify authenticates payload before decoding it. A bad or stale signature
// yields ErrInvalidSignature, an undecodable signed body ErrMalformedPayload.
func (v *StripeWebhookVerifier) Verify(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, v.secret, v.tolerance); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" || event.Type == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return WebhookEvent{}, fmt.Errorf("%w: missing data object", ErrMalformedPayload)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if session.ID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: session without id", ErrMalformedPayload)
	}
	converted := sessionFromStripe(&session)
	out.Session = &converted
	return out, nil
}
