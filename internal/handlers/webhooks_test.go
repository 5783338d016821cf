package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

type stubVerifier struct {
	event     payments.WebhookEvent
	err       error
	signature string
}

func (v *stubVerifier) Verify(_ []byte, signatureHeader string) (payments.WebhookEvent, error) {
	v.signature = signatureHeader
	return v.event, v.err
}

func newWebhookRouter(verifier payments.WebhookVerifier, paymentSvc services.PaymentService) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(verifier, paymentSvc).Routes)
	return router
}

func webhookRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	return req
}

func TestStripeWebhookAccepted(t *testing.T) {
	verifier := &stubVerifier{event: payments.WebhookEvent{
		ID:      "evt_1",
		Type:    payments.EventCheckoutSessionCompleted,
		Session: &domain.GatewaySession{ID: "cs_1", PaymentStatus: domain.SessionPaymentPaid},
	}}
	paymentSvc := &stubPaymentService{}
	router := newWebhookRouter(verifier, paymentSvc)

	rr := serve(router, webhookRequest(`{"id":"evt_1"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if verifier.signature != "t=1,v1=abc" {
		t.Fatalf("signature header not forwarded: %q", verifier.signature)
	}
	if len(paymentSvc.handled) != 1 || paymentSvc.handled[0].Session.ID != "cs_1" {
		t.Fatalf("unexpected handled events %+v", paymentSvc.handled)
	}
	if decodeBody(t, rr)["received"] != true {
		t.Fatalf("expected received acknowledgement")
	}
}

func TestStripeWebhookRejections(t *testing.T) {
	cases := []struct {
		name      string
		verifyErr error
		handleErr error
		status    int
		code      string
	}{
		{name: "bad signature", verifyErr: fmt.Errorf("stripe: %w", payments.ErrInvalidSignature), status: http.StatusPaymentRequired, code: "invalid_signature"},
		{name: "malformed payload", verifyErr: payments.ErrMalformedPayload, status: http.StatusUnauthorized, code: "invalid_payload"},
		{name: "missing session", handleErr: services.ErrPaymentInvalidEvent, status: http.StatusUnauthorized, code: "invalid_payload"},
		{name: "storage down", handleErr: &repositories.Error{Op: "payments.transition", Kind: repositories.KindUnavailable, Err: errors.New("down")}, status: http.StatusServiceUnavailable, code: "storage_unavailable"},
		{name: "other", handleErr: errors.New("boom"), status: http.StatusInternalServerError, code: "webhook_failed"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			verifier := &stubVerifier{err: tc.verifyErr, event: payments.WebhookEvent{ID: "evt_1", Type: payments.EventCheckoutSessionCompleted}}
			paymentSvc := &stubPaymentService{handleFunc: func(context.Context, payments.WebhookEvent) error { return tc.handleErr }}
			rr := serve(newWebhookRouter(verifier, paymentSvc), webhookRequest(`{}`))
			assertErrorCode(t, rr, tc.status, tc.code)
			if tc.verifyErr != nil && len(paymentSvc.handled) != 0 {
				t.Fatalf("unverified events must not reach the payment service")
			}
		})
	}
}

func TestStripeWebhookBodyLimit(t *testing.T) {
	verifier := &stubVerifier{}
	paymentSvc := &stubPaymentService{}
	router := newWebhookRouter(verifier, paymentSvc)

	body := bytes.Repeat([]byte("a"), maxWebhookBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	rr := serve(router, req)
	assertErrorCode(t, rr, http.StatusRequestEntityTooLarge, "payload_too_large")
	if len(paymentSvc.handled) != 0 {
		t.Fatalf("oversized payload must not be processed")
	}
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	rr := serve(newWebhookRouter(nil, nil), webhookRequest(`{}`))
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "webhooks_unavailable")
}
