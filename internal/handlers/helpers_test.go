package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/guestcart"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/services"
)

var handlerNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func testCatalog() []domain.Product {
	return []domain.Product{
		{ID: "p-pen", Title: "Pen", UnitPrice: 2000, Status: domain.ProductStatusActive},
		{ID: "p-ink", Title: "Ink", UnitPrice: 1000, Status: domain.ProductStatusActive},
		{ID: "p-old", Title: "Old", UnitPrice: 500, Status: domain.ProductStatusRemoved},
	}
}

func newTestCodec(t *testing.T) *guestcart.Codec {
	t.Helper()
	codec, err := guestcart.NewCodec([]byte("0123456789abcdef0123456789abcdef"), guestcart.WithSecure(false))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func newTestCartService(t *testing.T, store *memory.Store) services.CartService {
	t.Helper()
	svc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    store.Carts(),
		Products: store.Products(),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func withIdentity(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func newJSONRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(router chi.Router, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["error"]; got != code {
		t.Fatalf("expected error code %q, got %v", code, got)
	}
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, req services.CheckoutRequest) (services.CheckoutResult, error)
	calls        []services.CheckoutRequest
}

func (s *stubCheckoutService) Checkout(ctx context.Context, req services.CheckoutRequest) (services.CheckoutResult, error) {
	s.calls = append(s.calls, req)
	if s.checkoutFunc != nil {
		return s.checkoutFunc(ctx, req)
	}
	return services.CheckoutResult{OrderID: "ord-1", PaymentID: "pay-1", SessionID: "cs_1", RedirectURL: "https://checkout.example/cs_1", Total: 6000, Currency: "usd"}, nil
}

type stubPaymentService struct {
	handleFunc    func(ctx context.Context, event payments.WebhookEvent) error
	confirmFunc   func(ctx context.Context, accountID, sessionID string) (services.Confirmation, error)
	inspectFunc   func(ctx context.Context, accountID, sessionID string) (services.Confirmation, error)
	reconcileFunc func(ctx context.Context, olderThan time.Duration, limit int) (services.ReconcileReport, error)
	handled       []payments.WebhookEvent
	confirmed     int
	inspected     int
}

func (s *stubPaymentService) HandleEvent(ctx context.Context, event payments.WebhookEvent) error {
	s.handled = append(s.handled, event)
	if s.handleFunc != nil {
		return s.handleFunc(ctx, event)
	}
	return nil
}

func (s *stubPaymentService) Confirm(ctx context.Context, accountID, sessionID string) (services.Confirmation, error) {
	s.confirmed++
	if s.confirmFunc != nil {
		return s.confirmFunc(ctx, accountID, sessionID)
	}
	return services.Confirmation{}, services.ErrPaymentNotFound
}

func (s *stubPaymentService) Inspect(ctx context.Context, accountID, sessionID string) (services.Confirmation, error) {
	s.inspected++
	if s.inspectFunc != nil {
		return s.inspectFunc(ctx, accountID, sessionID)
	}
	return services.Confirmation{}, services.ErrPaymentNotFound
}

func (s *stubPaymentService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (services.ReconcileReport, error) {
	if s.reconcileFunc != nil {
		return s.reconcileFunc(ctx, olderThan, limit)
	}
	return services.ReconcileReport{}, nil
}

func (s *stubPaymentService) Settle(_ context.Context, payment services.Payment, _ services.GatewaySession) (services.Payment, error) {
	return payment, nil
}

type stubProfileService struct {
	getFunc  func(ctx context.Context, accountID string) (services.Profile, error)
	saveFunc func(ctx context.Context, accountID string, input services.ProfileInput) (services.Profile, error)
	saved    []services.ProfileInput
}

func (s *stubProfileService) Get(ctx context.Context, accountID string) (services.Profile, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, accountID)
	}
	return services.Profile{}, services.ErrProfileNotFound
}

func (s *stubProfileService) Save(ctx context.Context, accountID string, input services.ProfileInput) (services.Profile, error) {
	s.saved = append(s.saved, input)
	if s.saveFunc != nil {
		return s.saveFunc(ctx, accountID, input)
	}
	return services.Profile{AccountID: accountID, FirstName: input.FirstName, LastName: input.LastName, Email: input.Email}, nil
}

type stubOrderService struct {
	listFunc   func(ctx context.Context, accountID string, page domain.Page) (services.OrderPage, error)
	getFunc    func(ctx context.Context, accountID, orderID string) (services.OrderDetail, error)
	resumeFunc func(ctx context.Context, accountID, orderID string) (services.ResumeResult, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, accountID string, page domain.Page) (services.OrderPage, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, accountID, page)
	}
	return services.OrderPage{Page: page}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, accountID, orderID string) (services.OrderDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, accountID, orderID)
	}
	return services.OrderDetail{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ResumePayment(ctx context.Context, accountID, orderID string) (services.ResumeResult, error) {
	if s.resumeFunc != nil {
		return s.resumeFunc(ctx, accountID, orderID)
	}
	return services.ResumeResult{}, services.ErrOrderNotFound
}

var (
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.ProfileService  = (*stubProfileService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.PaymentService  = (*stubPaymentService)(nil)
)
