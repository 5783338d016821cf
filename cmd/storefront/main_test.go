package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
)

func TestCheckoutIdempotencyRequiresKey(t *testing.T) {
	calls := 0
	handler := checkoutIdempotency(
		idempotency.NewMemoryStore(),
		config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour},
		zap.NewNop(),
	)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "idempotency_key_required")
	require.Zero(t, calls, "checkout must not run without a key")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "order-1")
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusCreated, rr.Code)
	}
	assert.Equal(t, 1, calls, "a retried key replays the first response")
}
