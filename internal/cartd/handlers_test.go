package cartd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront-cartsync/internal/cart"
)

type testShopper struct {
	t      *testing.T
	base   string
	client *http.Client
	token  string
}

func newTestServer(t *testing.T, deps Deps) string {
	t.Helper()
	ts := httptest.NewServer(NewRouter(deps))
	t.Cleanup(ts.Close)
	return ts.URL
}

func newShopper(t *testing.T, base string) *testShopper {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	s := &testShopper{t: t, base: base, client: &http.Client{Jar: jar}}

	resp, err := s.client.Get(base + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u, err := url.Parse(base)
	require.NoError(t, err)
	for _, c := range jar.Cookies(u) {
		if c.Name == csrfCookieName {
			s.token = c.Value
		}
	}
	require.NotEmpty(t, s.token)
	return s
}

func (s *testShopper) postJSON(path, body string) (int, map[string]any) {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.base+path, strings.NewReader(body))
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(defaultCSRFHeader, s.token)
	return s.do(req)
}

func (s *testShopper) get(path string) (int, map[string]any) {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.base+path, nil)
	require.NoError(s.t, err)
	return s.do(req)
}

func (s *testShopper) do(req *http.Request) (int, map[string]any) {
	s.t.Helper()
	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	var payload map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	require.NoError(s.t, dec.Decode(&payload))
	return resp.StatusCode, payload
}

func TestAddIncrementsExistingLine(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))

	status, payload := shopper.postJSON("/cart/add", `{"product_id": 1}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, payload["ok"])
	require.Equal(t, "Added Sukuma Wiki (bunch)", payload["message"])
	require.Equal(t, json.Number("1"), payload["cart_count"])

	status, payload = shopper.postJSON("/cart/add", `{"product_id": "1", "quantity": 2}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, json.Number("3"), payload["cart_count"])

	_, mini := shopper.get("/cart/mini")
	items := mini["items"].([]any)
	require.Len(t, items, 1)
	line := items[0].(map[string]any)
	require.Equal(t, json.Number("3"), line["quantity"])
	require.Equal(t, json.Number("90.00"), line["line_total"])
	require.Equal(t, json.Number("90.00"), mini["subtotal"])
	require.Equal(t, json.Number("3"), mini["count"])
}

func TestAddRejectsInvalidAndUnknownProducts(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))

	status, payload := shopper.postJSON("/cart/add", `{"quantity": 1}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, false, payload["ok"])
	require.Equal(t, "Invalid product", payload["message"])

	status, payload = shopper.postJSON("/cart/add", `{"product_id": 1, "quantity": "lots"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid product", payload["message"])

	status, payload = shopper.postJSON("/cart/add", `{"product_id": 999}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Product not found", payload["message"])
}

func TestUpdateClampsAndRemoves(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))
	shopper.postJSON("/cart/add", `{"product_id": 2}`)
	shopper.postJSON("/cart/add", `{"product_id": 3}`)

	status, payload := shopper.postJSON("/cart/update", `{"item_id": 1, "quantity": 150}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, json.Number("99"), payload["quantity"])
	require.Equal(t, json.Number("5940.00"), payload["item_subtotal"])
	require.Equal(t, json.Number("6005.00"), payload["cart_subtotal"])
	require.Equal(t, json.Number("100"), payload["cart_count"])
	require.Equal(t, false, payload["removed"])

	status, payload = shopper.postJSON("/cart/update", `{"item_id": "1", "quantity": 0}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, payload["removed"])
	require.Equal(t, json.Number("0"), payload["quantity"])
	require.Equal(t, json.Number("0.00"), payload["item_subtotal"])
	require.Equal(t, json.Number("65.00"), payload["cart_subtotal"])
	require.Equal(t, json.Number("1"), payload["cart_count"])
}

func TestUpdateAndSaveReportMissingItems(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))

	status, payload := shopper.postJSON("/cart/update", `{"item_id": 42, "quantity": 1}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Item not found", payload["message"])

	status, payload = shopper.postJSON("/cart/update", `{"item_id": 42}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid input", payload["message"])

	status, payload = shopper.postJSON("/cart/save", `{}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid input", payload["message"])

	status, payload = shopper.postJSON("/cart/save", `{"item_id": 42}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Item not found", payload["message"])
}

func TestSaveForLaterRemovesLine(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))
	shopper.postJSON("/cart/add", `{"product_id": 4}`)
	shopper.postJSON("/cart/add", `{"product_id": 5, "quantity": 2}`)

	status, payload := shopper.postJSON("/cart/save", `{"item_id": 1}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Saved for later", payload["message"])
	require.Equal(t, json.Number("379.00"), payload["cart_subtotal"])
	require.Equal(t, json.Number("2"), payload["cart_count"])
}

func TestMutationsRequireCSRFHeader(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))

	req, err := http.NewRequest(http.MethodPost, shopper.base+"/cart/add", strings.NewReader(`{"product_id": 1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	status, payload := shopper.do(req)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "csrf_invalid", payload["error"])

	req, err = http.NewRequest(http.MethodPost, shopper.base+"/cart/add", strings.NewReader(`{"product_id": 1}`))
	require.NoError(t, err)
	req.Header.Set(defaultCSRFHeader, "0123456789abcdef0123456789abcdef")
	status, _ = shopper.do(req)
	require.Equal(t, http.StatusForbidden, status)
}

func TestCustomCSRFHeader(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{CSRFHeader: "X-Cart-Token"}))

	req, err := http.NewRequest(http.MethodPost, shopper.base+"/cart/add", strings.NewReader(`{"product_id": 1}`))
	require.NoError(t, err)
	req.Header.Set("X-Cart-Token", shopper.token)
	status, _ := shopper.do(req)
	require.Equal(t, http.StatusOK, status)
}

func TestFormEncodedMutations(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))

	form := url.Values{"product_id": {"3"}, "quantity": {"4"}}
	req, err := http.NewRequest(http.MethodPost, shopper.base+"/cart/add", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(defaultCSRFHeader, shopper.token)
	status, payload := shopper.do(req)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, json.Number("4"), payload["cart_count"])
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	base := newTestServer(t, Deps{})
	alice := newShopper(t, base)
	bob := newShopper(t, base)

	alice.postJSON("/cart/add", `{"product_id": 1, "quantity": 5}`)

	_, mini := bob.get("/cart/mini")
	require.Equal(t, json.Number("0"), mini["count"])
	require.Empty(t, mini["items"])

	_, mini = alice.get("/cart/mini")
	require.Equal(t, json.Number("5"), mini["count"])
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	t.Parallel()

	shopper := newShopper(t, newTestServer(t, Deps{}))
	status, payload := shopper.get("/nope")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, false, payload["ok"])
	require.Equal(t, "route_not_found", payload["error"])
	require.NotEmpty(t, payload["request_id"])
}

func TestPagesCarryTokenAndOrderLink(t *testing.T) {
	t.Parallel()

	base := newTestServer(t, Deps{Storefront: cart.Storefront{
		SiteName:              "Mama Mboga",
		WhatsApp:              "0712 345 678",
		FreeDeliveryThreshold: decimal.NewFromInt(1000),
	}})
	shopper := newShopper(t, base)
	shopper.postJSON("/cart/add", `{"product_id": 4}`)

	resp, err := shopper.client.Get(base + "/cart/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	page := string(body)
	require.Contains(t, page, `<meta name="csrf-token" content="`+shopper.token+`">`)
	require.Contains(t, page, "Add Ksh 550.00 more to get FREE delivery")
	require.Contains(t, page, "https://wa.me/254712345678?text=")
	require.Contains(t, page, `data-count="1"`)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	resp, err := http.Get(newTestServer(t, Deps{}) + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
