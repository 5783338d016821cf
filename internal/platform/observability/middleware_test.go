package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic log")
	}
}

func TestRequestLoggerLogsStatusSeverity(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requestctx.HasLogger(r.Context()) {
			t.Fatalf("expected logger on context")
		}
		w.WriteHeader(http.StatusNotFound)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/x", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected fields %v", entries[0].ContextMap())
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)

	log := ServiceLogger(zap.New(baseCore), "checkout")
	log(requestctx.WithLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context(), zap.New(reqCore)), "checkout.persist.failed", map[string]any{"order_id": "o1"})

	if baseLogs.Len() != 0 {
		t.Fatalf("expected base logger unused")
	}
	entries := reqLogs.All()
	if len(entries) != 1 || entries[0].Level != zap.WarnLevel {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].ContextMap()["order_id"] != "o1" {
		t.Fatalf("missing field")
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !sc.IsSampled() || sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if _, ok := parseCloudTraceContext("garbage"); ok {
		t.Fatalf("expected garbage to fail")
	}
}
