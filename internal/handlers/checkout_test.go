package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/services"
)

func newCheckoutRouter(h *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	h.Routes(router)
	return router
}

func TestCheckoutCreatesOrder(t *testing.T) {
	checkout := &stubCheckoutService{}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Checkout: checkout}))

	rr := serve(router, withIdentity(newJSONRequest(http.MethodPost, "/checkout", `{"currency":" usd "}`), "acct-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["redirect_url"] != "https://checkout.example/cs_1" || body["order_id"] != "ord-1" {
		t.Fatalf("unexpected checkout response: %v", body)
	}
	if body["total_display"] != domain.FormatMinorUnits(6000) {
		t.Fatalf("unexpected total display %v", body["total_display"])
	}
	if len(checkout.calls) != 1 || checkout.calls[0].AccountID != "acct-1" || checkout.calls[0].Currency != "usd" {
		t.Fatalf("unexpected checkout calls: %+v", checkout.calls)
	}
}

func TestCheckoutAcceptsEmptyBody(t *testing.T) {
	checkout := &stubCheckoutService{}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Checkout: checkout}))

	rr := serve(router, withIdentity(newJSONRequest(http.MethodPost, "/checkout", ""), "acct-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if checkout.calls[0].Currency != "" {
		t.Fatalf("expected default currency to be left to the service")
	}
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Checkout: &stubCheckoutService{}}))

	rr := serve(router, newJSONRequest(http.MethodPost, "/checkout", ""))
	assertErrorCode(t, rr, http.StatusUnauthorized, "unauthenticated")
}

func TestCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: services.ErrCheckoutEmptyCart, status: http.StatusUnprocessableEntity, code: "empty_cart"},
		{err: services.ErrCheckoutNoItems, status: http.StatusUnprocessableEntity, code: "no_checkoutable_items"},
		{err: services.ErrCheckoutInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
		{err: fmt.Errorf("wrap: %w", services.ErrCheckoutGateway), status: http.StatusBadGateway, code: "payment_gateway_error"},
		{err: services.ErrCheckoutPersistence, status: http.StatusInternalServerError, code: "checkout_failed"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: "checkout_failed"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			checkout := &stubCheckoutService{checkoutFunc: func(context.Context, services.CheckoutRequest) (services.CheckoutResult, error) {
				return services.CheckoutResult{}, tc.err
			}}
			router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Checkout: checkout}))
			rr := serve(router, withIdentity(newJSONRequest(http.MethodPost, "/checkout", ""), "acct-1"))
			assertErrorCode(t, rr, tc.status, tc.code)
		})
	}
}

func TestCheckoutIdempotencyReplaysResponse(t *testing.T) {
	calls := 0
	checkout := &stubCheckoutService{checkoutFunc: func(context.Context, services.CheckoutRequest) (services.CheckoutResult, error) {
		calls++
		id := fmt.Sprintf("ord-%d", calls)
		return services.CheckoutResult{OrderID: id, PaymentID: "pay-" + id, SessionID: "cs_" + id, RedirectURL: "https://checkout.example/" + id, Total: 2000, Currency: "usd"}, nil
	}}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{
		Checkout:    checkout,
		Idempotency: idempotency.Middleware(idempotency.NewMemoryStore()),
	}))

	send := func(uid string) map[string]any {
		req := withIdentity(newJSONRequest(http.MethodPost, "/checkout", `{"currency":"usd"}`), uid)
		req.Header.Set("Idempotency-Key", "key-1")
		rr := serve(router, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
		}
		return decodeBody(t, rr)
	}

	first := send("acct-1")
	second := send("acct-1")
	if first["order_id"] != second["order_id"] {
		t.Fatalf("expected replayed order, got %v then %v", first["order_id"], second["order_id"])
	}
	if calls != 1 {
		t.Fatalf("expected one checkout, got %d", calls)
	}

	other := send("acct-2")
	if other["order_id"] == first["order_id"] || calls != 2 {
		t.Fatalf("idempotency keys must be scoped per account")
	}
}

func TestCheckoutIdempotencyDoesNotStoreFailures(t *testing.T) {
	calls := 0
	checkout := &stubCheckoutService{checkoutFunc: func(context.Context, services.CheckoutRequest) (services.CheckoutResult, error) {
		calls++
		if calls == 1 {
			return services.CheckoutResult{}, services.ErrCheckoutPersistence
		}
		return services.CheckoutResult{OrderID: "ord-ok", Total: 100, Currency: "usd"}, nil
	}}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{
		Checkout:    checkout,
		Idempotency: idempotency.Middleware(idempotency.NewMemoryStore()),
	}))

	for i, want := range []int{http.StatusInternalServerError, http.StatusCreated} {
		req := withIdentity(newJSONRequest(http.MethodPost, "/checkout", ""), "acct-1")
		req.Header.Set("Idempotency-Key", "retry-me")
		rr := serve(router, req)
		if rr.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d (%s)", i+1, want, rr.Code, rr.Body.String())
		}
	}
}

func TestCheckoutRoutesRejectMissingIdempotencyKey(t *testing.T) {
	checkout := &stubCheckoutService{}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{
		Checkout:    checkout,
		Idempotency: idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithRequiredKey()),
	}))

	for _, path := range []string{"/checkout", "/checkout:register"} {
		rr := serve(router, withIdentity(newJSONRequest(http.MethodPost, path, ""), "acct-1"))
		assertErrorCode(t, rr, http.StatusBadRequest, "idempotency_key_required")
	}
	if len(checkout.calls) != 0 {
		t.Fatalf("checkout must not run without a key, got %d calls", len(checkout.calls))
	}
}

func TestRegisterAndCheckoutMergesGuestCart(t *testing.T) {
	store := memory.NewStore(testCatalog()...)
	carts := newTestCartService(t, store)
	codec := newTestCodec(t)
	profiles := &stubProfileService{}
	checkout := &stubCheckoutService{}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{
		Checkout:   checkout,
		Carts:      carts,
		Profiles:   profiles,
		GuestCarts: codec,
	}))

	token, err := codec.Encode([]domain.CartLine{{ProductID: "p-pen", Quantity: 2, AddedAt: handlerNow}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	body := `{"currency":"usd","profile":{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com","shipping":{"address1":"1 Main","city":"Tokyo","zipcode":"100-0001","country_code":"JP"}}}`
	req := withIdentity(newJSONRequest(http.MethodPost, "/checkout:register", body), "acct-new")
	req.AddCookie(&http.Cookie{Name: codec.CookieName(), Value: token})

	rr := serve(router, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	merged, _ := resp["merged"].(map[string]any)
	if merged["inserted"] != float64(1) {
		t.Fatalf("expected one merged line, got %v", resp["merged"])
	}
	if resp["order_id"] != "ord-1" {
		t.Fatalf("expected embedded checkout fields, got %v", resp)
	}
	if len(profiles.saved) != 1 || profiles.saved[0].Shipping == nil || profiles.saved[0].Shipping.City != "Tokyo" {
		t.Fatalf("unexpected profile saves: %+v", profiles.saved)
	}
	lines, err := store.Carts().ListLines(context.Background(), "acct-new")
	if err != nil {
		t.Fatalf("ListLines: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 2 {
		t.Fatalf("expected guest line in account cart, got %+v", lines)
	}
	cookie := findCookie(rr, codec.CookieName())
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Fatalf("expected guest cookie to be expired")
	}
}

func TestRegisterAndCheckoutStopsOnInvalidProfile(t *testing.T) {
	store := memory.NewStore(testCatalog()...)
	profiles := &stubProfileService{saveFunc: func(context.Context, string, services.ProfileInput) (services.Profile, error) {
		return services.Profile{}, &services.ProfileValidationError{Fields: map[string]string{"first_name": "required"}}
	}}
	checkout := &stubCheckoutService{}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{
		Checkout: checkout,
		Carts:    newTestCartService(t, store),
		Profiles: profiles,
	}))

	rr := serve(router, withIdentity(newJSONRequest(http.MethodPost, "/checkout:register", `{"profile":{}}`), "acct-new"))
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "invalid_profile")
	if len(checkout.calls) != 0 {
		t.Fatalf("checkout must not run when the profile is invalid")
	}
}

func TestCheckoutSuccessConfirmsPayment(t *testing.T) {
	settled := handlerNow
	payments := &stubPaymentService{confirmFunc: func(_ context.Context, accountID, sessionID string) (services.Confirmation, error) {
		if accountID != "acct-1" || sessionID != "cs_1" {
			t.Fatalf("unexpected confirm args %s %s", accountID, sessionID)
		}
		return services.Confirmation{
			Order:   domain.Order{ID: "ord-1", TotalPrice: 2000, Currency: "usd", ItemCount: 1, CreatedAt: handlerNow},
			Payment: domain.Payment{ID: "pay-1", Status: domain.PaymentStatusPaid, Amount: 2000, Currency: "usd", Type: domain.PaymentTypeCard, SettledAt: &settled},
			Session: domain.GatewaySession{ID: "cs_1", State: domain.SessionStateComplete, PaymentStatus: domain.SessionPaymentPaid, AmountTotal: 2000},
		}, nil
	}}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Payments: payments}))

	rr := serve(router, withIdentity(newJSONRequest(http.MethodGet, "/checkout/success?session_id=cs_1", ""), "acct-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	payment, _ := body["payment"].(map[string]any)
	if payment["status"] != "paid" || payment["settled_at"] == nil {
		t.Fatalf("unexpected payment payload %v", payment)
	}
	if payments.confirmed != 1 || payments.inspected != 0 {
		t.Fatalf("success page must confirm, not inspect")
	}
}

func TestCheckoutFailureOnlyInspects(t *testing.T) {
	payments := &stubPaymentService{inspectFunc: func(context.Context, string, string) (services.Confirmation, error) {
		return services.Confirmation{Payment: domain.Payment{ID: "pay-1", Status: domain.PaymentStatusPending}}, nil
	}}
	router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Payments: payments}))

	rr := serve(router, withIdentity(newJSONRequest(http.MethodGet, "/checkout/failure?session_id=cs_1", ""), "acct-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if payments.confirmed != 0 || payments.inspected != 1 {
		t.Fatalf("failure page must only inspect")
	}
}

func TestCheckoutConfirmationErrors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{name: "missing session", target: "/checkout/success", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "not found", target: "/checkout/success?session_id=cs_x", err: services.ErrPaymentNotFound, status: http.StatusNotFound, code: "payment_not_found"},
		{name: "gateway", target: "/checkout/success?session_id=cs_x", err: services.ErrPaymentGateway, status: http.StatusBadGateway, code: "payment_gateway_error"},
		{name: "other", target: "/checkout/success?session_id=cs_x", err: errors.New("boom"), status: http.StatusInternalServerError, code: "payment_error"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			payments := &stubPaymentService{confirmFunc: func(context.Context, string, string) (services.Confirmation, error) {
				return services.Confirmation{}, tc.err
			}}
			router := newCheckoutRouter(NewCheckoutHandlers(CheckoutHandlersDeps{Payments: payments}))
			rr := serve(router, withIdentity(newJSONRequest(http.MethodGet, tc.target, ""), "acct-1"))
			assertErrorCode(t, rr, tc.status, tc.code)
		})
	}
}
