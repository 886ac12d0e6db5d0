package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront-cartsync/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	t.Parallel()

	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("item_not_found", "Item not found\n", http.StatusNotFound).
		WithDetails(map[string]any{"item_id": 7}))

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Cache-Control"), "no-store")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, false, body["ok"])
	require.Equal(t, "item_not_found", body["error"])
	require.Equal(t, "Item not found", body["message"])
	require.Equal(t, "abc123", body["trace_id"])
	require.EqualValues(t, 7, body["item_id"])
}

func TestNewErrorDefaultsAndTruncates(t *testing.T) {
	t.Parallel()

	err := NewError(strings.Repeat("x", 200), "boom", 0)
	require.Equal(t, http.StatusInternalServerError, err.Status)
	require.Len(t, err.Code, 80)
}

func TestWriteErrorKeepsStandardKeys(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, Error{Code: "boom", Details: map[string]any{"ok": true, "extra": "x"}})

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, false, body["ok"])
	require.Equal(t, "x", body["extra"])
	require.NotContains(t, body, "request_id")
}
