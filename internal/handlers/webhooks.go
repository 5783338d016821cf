package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment gateway notifications.
type WebhookHandlers struct {
	verifier payments.WebhookVerifier
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers. The verifier authenticates every payload.
func NewWebhookHandlers(verifier payments.WebhookVerifier, paymentSvc services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{
		verifier: verifier,
		payments: paymentSvc,
	}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

// stripe answers 200 for accepted or ignored events, 401 for malformed
// payloads and 402 for bad signatures so the gateway's retries can tell them apart.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx).Named("webhooks")
	if h.verifier == nil || h.payments == nil {
		writeServiceUnavailable(w, r, "webhooks_unavailable", "webhook processing is not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "unable to read webhook body", http.StatusUnauthorized))
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("webhook signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusPaymentRequired))
		return
	case err != nil:
		logger.Warn("webhook payload rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be decoded", http.StatusUnauthorized))
		return
	}

	if err := h.payments.HandleEvent(ctx, event); err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentInvalidEvent):
			logger.Warn("webhook event rejected", zap.String("eventId", event.ID), zap.String("type", event.Type), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook event is missing its session", http.StatusUnauthorized))
		case repositories.IsUnavailable(err):
			logger.Error("webhook storage unavailable", zap.String("eventId", event.ID), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "try again later", http.StatusServiceUnavailable))
		default:
			logger.Error("webhook processing failed", zap.String("eventId", event.ID), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "webhook processing failed", http.StatusInternalServerError))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
