package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestRouterNotFoundEnvelope(t *testing.T) {
	router := NewRouter()

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assertErrorCode(t, rr, http.StatusNotFound, "route_not_found")
	if decodeBody(t, rr)["request_id"] == nil {
		t.Fatalf("expected request id in error envelope")
	}
}

func TestRouterUnconfiguredGroupsAreNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/api/v1/me", "/api/v1/cart/items", "/api/v1/orders/ord-1", "/api/v1/internal/payments:reconcile"} {
		rr := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		assertErrorCode(t, rr, http.StatusNotImplemented, "not_implemented")
	}
}

func TestRouterMountsGroupsWithMiddleware(t *testing.T) {
	var webhookHits, internalHits int
	count := func(n *int) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				*n++
				next.ServeHTTP(w, r)
			})
		}
	}
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	router := NewRouter(
		WithWebhookRoutes(func(r chi.Router) { r.Post("/stripe", ok) }),
		WithWebhookMiddlewares(count(&webhookHits)),
		WithInternalRoutes(func(r chi.Router) { r.Post("/payments:reconcile", ok) }),
		WithInternalMiddlewares(count(&internalHits)),
		WithAdditionalRoutes(func(r chi.Router) { r.Post("/checkout", ok) }),
	)

	for _, path := range []string{"/api/v1/webhooks/stripe", "/api/v1/internal/payments:reconcile", "/api/v1/checkout"} {
		rr := serve(router, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rr.Code)
		}
	}
	if webhookHits != 1 || internalHits != 1 {
		t.Fatalf("group middleware must only wrap its own group: webhooks=%d internal=%d", webhookHits, internalHits)
	}
}
