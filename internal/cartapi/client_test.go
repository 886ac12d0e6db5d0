package cartapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartapi"
)

func newClient(t *testing.T, handler http.HandlerFunc, opts ...cartapi.Option) *cartapi.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	client, err := cartapi.NewClient(ts.URL, ts.Client(), opts...)
	require.NoError(t, err)
	return client
}

func TestClientMiniDecodesLenientPayload(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cart/mini", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"ok": true,
			"items": [
				{"item_id": 7, "product_id": "12", "name": " Sukuma ", "price": "45.5", "quantity": 2, "slug": "sukuma"},
				{"item_id": "8", "product_id": 13, "name": "Milk", "price": 60, "quantity": 120, "line_total": 5940},
				{"product_id": 14, "name": "no id"},
				"garbage"
			],
			"subtotal": 6031
		}`)
	})

	snap, err := client.Mini(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	first := snap.Items[0]
	require.Equal(t, cart.ID("7"), first.ItemID)
	require.Equal(t, cart.ID("12"), first.ProductID)
	require.Equal(t, "Sukuma", first.Name)
	require.Equal(t, "91.00", first.LineTotal.StringFixed(2))

	second := snap.Items[1]
	require.Equal(t, cart.ID("8"), second.ItemID)
	require.Equal(t, 99, second.Quantity)

	require.Equal(t, 101, snap.Count, "count derived from lines when absent")
	require.Equal(t, "6031.00", snap.Subtotal.StringFixed(2))
}

func TestClientMiniRejectsNotOK(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok": false, "message": "Session expired"}`)
	})

	_, err := client.Mini(context.Background())
	var rejected *cartapi.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusOK, rejected.Status)
	require.Equal(t, "Session expired", rejected.Message)
}

func TestClientMiniMalformed(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>login</html>`)
	})

	_, err := client.Mini(context.Background())
	require.ErrorIs(t, err, cartapi.ErrMalformed)
}

func TestClientTransportFailure(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	client, err := cartapi.NewClient(ts.URL, ts.Client())
	require.NoError(t, err)
	ts.Close()

	_, err = client.Summary(context.Background())
	require.ErrorIs(t, err, cartapi.ErrTransport)
}

func TestClientSummaryRequiresCount(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok": true, "items": []}`)
	})

	_, err := client.Summary(context.Background())
	require.ErrorIs(t, err, cartapi.ErrMalformed)
}

func TestClientOutOfRangeCountsAreUnset(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/cart/mini":
			_, _ = io.WriteString(w, `{"ok": true, "count": 1e30, "items": [{"item_id": 1, "product_id": 2, "quantity": 3}]}`)
		case "/cart/add":
			_, _ = io.WriteString(w, `{"ok": true, "cart_count": "-99999999999999999999"}`)
		}
	})
	ctx := context.Background()

	_, err := client.Summary(ctx)
	require.ErrorIs(t, err, cartapi.ErrMalformed)

	snap, err := client.Mini(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Count, "count falls back to the line total")

	res, err := client.Add(ctx, "2", 1)
	require.NoError(t, err)
	require.False(t, res.HasCount)
	require.Zero(t, res.CartCount)
}

func TestClientSummary(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok": true, "count": "4", "subtotal": 120.5}`)
	})

	summary, err := client.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Count)
	require.Equal(t, "120.50", summary.Subtotal.StringFixed(2))
}

func TestClientAddSendsTokenAndDecodes(t *testing.T) {
	t.Parallel()

	var (
		gotHeader string
		gotBody   map[string]any
	)
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cart/add", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotHeader = r.Header.Get("X-Shop-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{"ok": true, "cart_count": 4, "message": "Added Milk"}`)
	}, cartapi.WithCSRFHeader("X-Shop-Token"), cartapi.WithTokenSource(cartapi.StaticToken("tok-1")))

	res, err := client.Add(context.Background(), "12", 0)
	require.NoError(t, err)
	require.Equal(t, "tok-1", gotHeader)
	require.EqualValues(t, 12, gotBody["product_id"])
	require.EqualValues(t, 1, gotBody["quantity"])
	require.True(t, res.HasCount)
	require.Equal(t, 4, res.CartCount)
	require.Equal(t, "Added Milk", res.Message)
}

func TestClientAddRejectedWithEnvelope(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"ok": false, "error": "product_not_found", "message": "Product not found"}`)
	})

	_, err := client.Add(context.Background(), "99", 1)
	var rejected *cartapi.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusNotFound, rejected.Status)
	require.Equal(t, "Product not found", rejected.Message)
}

func TestClientServerErrorWithoutEnvelope(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.Update(context.Background(), "3", 1)
	var rejected *cartapi.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusBadGateway, rejected.Status)
	require.Empty(t, rejected.Message)
}

func TestClientUpdateClampsAndRemoveMatchesZero(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
	)
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cart/update", r.URL.Path)
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok": true, "cart_count": 0, "removed": true}`)
	})

	ctx := context.Background()
	_, err := client.Update(ctx, "5", 150)
	require.NoError(t, err)
	_, err = client.Update(ctx, "5", -4)
	require.NoError(t, err)
	res, err := client.Remove(ctx, "5")
	require.NoError(t, err)

	require.JSONEq(t, `{"item_id": 5, "quantity": 99}`, bodies[0])
	require.JSONEq(t, `{"item_id": 5, "quantity": 0}`, bodies[1])
	require.Equal(t, bodies[1], bodies[2])
	require.True(t, res.Removed)
	require.Equal(t, cart.ID("5"), res.ItemID)
}

func TestClientSaveForLater(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cart/save", r.URL.Path)
		_, _ = io.WriteString(w, `{"ok": true, "message": "Saved for later", "cart_subtotal": 10, "cart_count": 1}`)
	})

	res, err := client.SaveForLater(context.Background(), "a-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.CartCount)
	require.Equal(t, "Saved for later", res.Message)
}

func TestClientRequiresIDs(t *testing.T) {
	t.Parallel()

	client, err := cartapi.NewClient("http://localhost", nil)
	require.NoError(t, err)

	_, err = client.Add(context.Background(), "", 1)
	require.Error(t, err)
	_, err = client.Update(context.Background(), " ", 1)
	require.Error(t, err)

	_, err = cartapi.NewClient("localhost:8080", nil)
	require.Error(t, err)
}

func TestClientTokenSourceFailure(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	}, cartapi.WithTokenSource(failingToken{}))

	_, err := client.Add(context.Background(), "1", 1)
	require.ErrorIs(t, err, cartapi.ErrTransport)
}

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", errors.New("no page") }
