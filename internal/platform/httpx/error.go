// Package httpx holds the JSON envelope helpers shared by handlers and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// Error is the canonical JSON error envelope.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError constructs an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

// WithDetails attaches extra top-level fields to the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError writes err as {"error","message","request_id"} plus any details.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	payload := make(map[string]any, len(err.Details)+4)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = clip(id, 80)
	}
	if traceID := requestctx.TraceID(ctx); traceID != "" {
		payload["trace_id"] = traceID
	}
	WriteJSON(w, err.Status, payload)
}

// WriteJSON encodes payload with the given status. A nil payload writes only the status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
