package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/storefront-cartsync/internal/platform/requestctx"
)

// Error is the failure envelope every cart endpoint answers with:
//
//	{"ok": false, "error": "item_not_found", "message": "Item not found", "status": 404, "request_id": "..."}
//
// Storefront clients read ok first, so transport and logical failures look the same to them.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. Status codes outside 4xx/5xx become 500.
func NewError(code, message string, status int) Error {
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, 80),
		Message: clip(message, 512),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithDetails returns a copy of e carrying extra top-level envelope fields. Details never
// replace the standard keys.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WriteError writes e with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status < http.StatusBadRequest || e.Status > 599 {
		e.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+6)
	maps.Copy(body, e.Details)
	body["ok"] = false
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := clip(middleware.GetReqID(ctx), 80); id != "" {
		body["request_id"] = id
	}
	if id := clip(requestctx.TraceID(ctx), 64); id != "" {
		body["trace_id"] = id
	}
	WriteJSON(w, e.Status, body)
}

// WriteJSON encodes payload with status. Cart responses are per session, so caching is off.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clip collapses whitespace runs, line breaks included, and truncates to limit runes.
func clip(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if r := []rune(value); len(r) > limit {
		value = string(r[:limit])
	}
	return value
}
