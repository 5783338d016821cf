package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

const maxInternalBodySize = 2 * 1024

// InternalHandlers serves scheduler-driven maintenance endpoints. The router
// guards the group with OIDC.
type InternalHandlers struct {
	payments  services.PaymentService
	minAge    time.Duration
	batchSize int
}

// NewInternalHandlers constructs internal handlers with the default sweep window.
func NewInternalHandlers(paymentSvc services.PaymentService, minAge time.Duration, batchSize int) *InternalHandlers {
	return &InternalHandlers{
		payments:  paymentSvc,
		minAge:    minAge,
		batchSize: batchSize,
	}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:reconcile", h.reconcilePayments)
}

type reconcileRequest struct {
	MinAge string `json:"min_age"`
	Limit  int    `json:"limit"`
}

type reconcileResponse struct {
	Scanned   int `json:"scanned"`
	Paid      int `json:"paid"`
	Failed    int `json:"failed"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

func (h *InternalHandlers) reconcilePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(w, r, "payments_unavailable", "payment service unavailable")
		return
	}
	req := reconcileRequest{Limit: h.batchSize}
	if !decodeJSONBody(w, r, maxInternalBodySize, true, &req) {
		return
	}
	minAge := h.minAge
	if raw := strings.TrimSpace(req.MinAge); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "min_age must be a non-negative duration", http.StatusBadRequest))
			return
		}
		minAge = parsed
	}

	report, err := h.payments.ReconcilePending(ctx, minAge, req.Limit)
	if err != nil {
		requestctx.Logger(ctx).Error("payment reconcile failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "payment reconcile failed", http.StatusInternalServerError))
		return
	}
	fields := []zap.Field{
		zap.Int("scanned", report.Scanned),
		zap.Int("paid", report.Paid),
		zap.Int("failed", report.Failed),
		zap.Int("errors", report.Errors),
	}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", caller.Email))
	}
	requestctx.Logger(ctx).Info("payment reconcile completed", fields...)
	writeJSONResponse(w, http.StatusOK, reconcileResponse(report))
}
