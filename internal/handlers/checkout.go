package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/guestcart"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes checkout and the hosted payment return pages.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	payments    services.PaymentService
	carts       services.CartService
	profiles    services.ProfileService
	codec       *guestcart.Codec
	idempotency func(http.Handler) http.Handler
}

// CheckoutHandlersDeps bundles the collaborators of CheckoutHandlers. Carts,
// Profiles and Codec are only needed by /checkout:register.
type CheckoutHandlersDeps struct {
	Authenticator *auth.Authenticator
	Checkout      services.CheckoutService
	Payments      services.PaymentService
	Carts         services.CartService
	Profiles      services.ProfileService
	GuestCarts    *guestcart.Codec
	// Idempotency wraps the order-creating routes.
	Idempotency func(http.Handler) http.Handler
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(deps CheckoutHandlersDeps) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:       deps.Authenticator,
		checkout:    deps.Checkout,
		payments:    deps.Payments,
		carts:       deps.Carts,
		profiles:    deps.Profiles,
		codec:       deps.GuestCarts,
		idempotency: deps.Idempotency,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAccount())
	}
	creating := group
	if h.idempotency != nil {
		creating = creating.With(h.idempotency)
	}
	creating.Post("/checkout", h.createCheckout)
	creating.Post("/checkout:register", h.registerAndCheckout)
	group.Get("/checkout/success", h.success)
	group.Get("/checkout/failure", h.failure)
}

type checkoutRequest struct {
	Currency string `json:"currency"`
}

type registerCheckoutRequest struct {
	Currency string         `json:"currency"`
	Profile  profileRequest `json:"profile"`
}

type checkoutResponse struct {
	OrderID      string `json:"order_id"`
	PaymentID    string `json:"payment_id"`
	SessionID    string `json:"session_id"`
	RedirectURL  string `json:"redirect_url"`
	Total        int64  `json:"total"`
	TotalDisplay string `json:"total_display"`
	Currency     string `json:"currency"`
}

type registerCheckoutResponse struct {
	checkoutResponse
	Merged cartMergeResponse `json:"merged"`
}

type gatewaySessionPayload struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency,omitempty"`
}

type confirmationResponse struct {
	Order   orderPayload          `json:"order"`
	Payment paymentPayload        `json:"payment"`
	Session gatewaySessionPayload `json:"session"`
}

func (h *CheckoutHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(w, r, "checkout_unavailable", "checkout service unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, true, &req) {
		return
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutRequest{
		AccountID: identity.UID,
		Currency:  strings.TrimSpace(req.Currency),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCheckoutResponse(result))
}

// registerAndCheckout saves the new account's profile, moves the guest cart
// into the account, and checks out from the account cart.
func (h *CheckoutHandlers) registerAndCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || h.carts == nil || h.profiles == nil {
		writeServiceUnavailable(w, r, "checkout_unavailable", "checkout service unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req registerCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, false, &req) {
		return
	}

	if _, err := h.profiles.Save(ctx, identity.UID, req.Profile.input(identity)); err != nil {
		writeProfileError(ctx, w, err)
		return
	}

	merged, err := mergeGuestCookie(ctx, w, r, h.carts, h.codec, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutRequest{
		AccountID: identity.UID,
		Currency:  strings.TrimSpace(req.Currency),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, registerCheckoutResponse{
		checkoutResponse: buildCheckoutResponse(result),
		Merged: cartMergeResponse{
			Inserted: merged.Inserted,
			Skipped:  merged.Skipped,
			Dropped:  merged.Dropped,
		},
	})
}

func (h *CheckoutHandlers) success(w http.ResponseWriter, r *http.Request) {
	h.confirmation(w, r, func(ctx context.Context, accountID, sessionID string) (services.Confirmation, error) {
		return h.payments.Confirm(ctx, accountID, sessionID)
	})
}

func (h *CheckoutHandlers) failure(w http.ResponseWriter, r *http.Request) {
	h.confirmation(w, r, func(ctx context.Context, accountID, sessionID string) (services.Confirmation, error) {
		return h.payments.Inspect(ctx, accountID, sessionID)
	})
}

func (h *CheckoutHandlers) confirmation(w http.ResponseWriter, r *http.Request, load func(context.Context, string, string) (services.Confirmation, error)) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(w, r, "payments_unavailable", "payment service unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}

	confirmation, err := load(ctx, identity.UID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		case errors.Is(err, services.ErrPaymentNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
		case errors.Is(err, services.ErrPaymentGateway):
			httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "unable to reach the payment provider", http.StatusBadGateway))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to load payment", http.StatusInternalServerError))
		}
		return
	}

	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, confirmationResponse{
		Order:   buildOrderPayload(confirmation.Order),
		Payment: buildPaymentPayload(confirmation.Payment),
		Session: gatewaySessionPayload{
			ID:            confirmation.Session.ID,
			State:         string(confirmation.Session.State),
			PaymentStatus: string(confirmation.Session.PaymentStatus),
			AmountTotal:   confirmation.Session.AmountTotal,
			Currency:      confirmation.Session.Currency,
		},
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "your cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutNoItems):
		httpx.WriteError(ctx, w, httpx.NewError("no_checkoutable_items", "none of the items in your cart can be purchased", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid checkout request", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "unable to start payment, please try again", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_failed", "checkout failed, please try again", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_failed", "checkout failed, please try again", http.StatusInternalServerError))
	}
}

func buildCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	return checkoutResponse{
		OrderID:      result.OrderID,
		PaymentID:    result.PaymentID,
		SessionID:    result.SessionID,
		RedirectURL:  result.RedirectURL,
		Total:        result.Total,
		TotalDisplay: domain.FormatMinorUnits(result.Total),
		Currency:     result.Currency,
	}
}
