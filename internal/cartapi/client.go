package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"finitefield.org/storefront-cartsync/internal/cart"
)

// DefaultCSRFHeader is the anti-forgery header sent with every mutating request.
const DefaultCSRFHeader = "X-CSRFToken"

const maxBodyBytes = 1 << 20

var (
	// ErrTransport wraps failures to reach the cart service.
	ErrTransport = errors.New("cartapi: transport failure")
	// ErrMalformed marks responses whose body could not be interpreted.
	ErrMalformed = errors.New("cartapi: malformed response")
)

// RejectedError reports a logical failure from the cart service: an ok:false envelope or
// a non-2xx status.
type RejectedError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cartapi: rejected (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("cartapi: rejected (%d)", e.Status)
}

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies the anti-forgery token for mutating requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Option customises a Client.
type Option func(*Client)

// WithCSRFHeader overrides the anti-forgery header name.
func WithCSRFHeader(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.csrfHeader = name
		}
	}
}

// WithTokenSource sets where the anti-forgery token comes from.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) {
		if src != nil {
			c.tokens = src
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

const tracerName = "finitefield.org/storefront-cartsync/internal/cartapi"

// Client talks to the storefront cart endpoints over HTTP+JSON.
type Client struct {
	base       *url.URL
	client     HTTPClient
	csrfHeader string
	tokens     TokenSource
	tracer     trace.Tracer
}

// NewClient constructs a Client rooted at baseURL.
func NewClient(baseURL string, client HTTPClient, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("cartapi: base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("cartapi: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("cartapi: base URL %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		base:       parsed,
		client:     client,
		csrfHeader: DefaultCSRFHeader,
		tokens:     StaticToken(""),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mini fetches the full cart snapshot. A response without ok:true is rejected.
func (c *Client) Mini(ctx context.Context) (cart.Snapshot, error) {
	ctx, span := c.startSpan(ctx, "cartapi.Mini", http.MethodGet, "/cart/mini")
	defer span.End()

	var payload miniPayload
	status, err := c.call(ctx, http.MethodGet, "/cart/mini", nil, &payload)
	if err == nil && !payload.ok() {
		err = rejected(status, payload.envelope)
	}
	if err != nil {
		return cart.Snapshot{}, endSpan(span, status, err)
	}
	snap := payload.snapshot()
	span.SetAttributes(attribute.Int("cart.count", snap.Count), attribute.Int("cart.lines", len(snap.Items)))
	_ = endSpan(span, status, nil)
	return snap, nil
}

// Summary fetches only the count and subtotal. A payload without a count is malformed so
// callers keep their last known value.
func (c *Client) Summary(ctx context.Context) (cart.Summary, error) {
	ctx, span := c.startSpan(ctx, "cartapi.Summary", http.MethodGet, "/cart/mini")
	defer span.End()

	var payload miniPayload
	status, err := c.call(ctx, http.MethodGet, "/cart/mini", nil, &payload)
	count, ok := payload.Count.count()
	if err == nil && !ok {
		err = fmt.Errorf("%w: count missing", ErrMalformed)
	}
	if err != nil {
		return cart.Summary{}, endSpan(span, status, err)
	}
	_ = endSpan(span, status, nil)
	return cart.Summary{
		Count:    count,
		Subtotal: payload.Subtotal.amount().Round(2),
	}, nil
}

// Add adds quantity units of a product. Quantities below one are sent as one.
func (c *Client) Add(ctx context.Context, productID cart.ID, quantity int) (AddResult, error) {
	if productID.IsZero() {
		return AddResult{}, errors.New("cartapi: product id is required")
	}
	if quantity < 1 {
		quantity = 1
	}
	quantity = cart.ClampQuantity(quantity)

	ctx, span := c.startSpan(ctx, "cartapi.Add", http.MethodPost, "/cart/add")
	defer span.End()
	span.SetAttributes(attribute.String("cart.product_id", productID.String()), attribute.Int("cart.quantity", quantity))

	var payload addPayload
	status, err := c.call(ctx, http.MethodPost, "/cart/add", addRequest{ProductID: productID, Quantity: quantity}, &payload)
	if err == nil && !payload.ok() {
		err = rejected(status, payload.envelope)
	}
	if err != nil {
		return AddResult{}, endSpan(span, status, err)
	}
	_ = endSpan(span, status, nil)
	count, ok := payload.CartCount.count()
	return AddResult{
		CartCount: count,
		HasCount:  ok,
		Message:   string(payload.Message),
	}, nil
}

// Update sets a line's quantity, clamped to [0, 99]. Zero removes the line.
func (c *Client) Update(ctx context.Context, itemID cart.ID, quantity int) (UpdateResult, error) {
	if itemID.IsZero() {
		return UpdateResult{}, errors.New("cartapi: item id is required")
	}
	quantity = cart.ClampQuantity(quantity)

	ctx, span := c.startSpan(ctx, "cartapi.Update", http.MethodPost, "/cart/update")
	defer span.End()
	span.SetAttributes(attribute.String("cart.item_id", itemID.String()), attribute.Int("cart.quantity", quantity))

	var payload updatePayload
	status, err := c.call(ctx, http.MethodPost, "/cart/update", updateRequest{ItemID: itemID, Quantity: quantity}, &payload)
	if err == nil && !payload.ok() {
		err = rejected(status, payload.envelope)
	}
	if err != nil {
		return UpdateResult{}, endSpan(span, status, err)
	}
	_ = endSpan(span, status, nil)

	count, hasCount := payload.CartCount.count()
	result := UpdateResult{
		ItemID:       payload.ItemID,
		Quantity:     quantity,
		ItemSubtotal: payload.ItemSubtotal.amount().Round(2),
		CartSubtotal: payload.CartSubtotal.amount().Round(2),
		CartCount:    count,
		HasCount:     hasCount,
		Removed:      bool(payload.Removed),
		Message:      string(payload.Message),
	}
	if result.ItemID.IsZero() {
		result.ItemID = itemID
	}
	if q, ok := payload.Quantity.whole(); ok {
		result.Quantity = cart.ClampQuantity(q)
	}
	return result, nil
}

// Remove deletes a line. It issues exactly the request Update does for quantity zero.
func (c *Client) Remove(ctx context.Context, itemID cart.ID) (UpdateResult, error) {
	return c.Update(ctx, itemID, 0)
}

// SaveForLater moves a line out of the cart onto the saved list.
func (c *Client) SaveForLater(ctx context.Context, itemID cart.ID) (SaveResult, error) {
	if itemID.IsZero() {
		return SaveResult{}, errors.New("cartapi: item id is required")
	}

	ctx, span := c.startSpan(ctx, "cartapi.SaveForLater", http.MethodPost, "/cart/save")
	defer span.End()
	span.SetAttributes(attribute.String("cart.item_id", itemID.String()))

	var payload savePayload
	status, err := c.call(ctx, http.MethodPost, "/cart/save", saveRequest{ItemID: itemID}, &payload)
	if err == nil && !payload.ok() {
		err = rejected(status, payload.envelope)
	}
	if err != nil {
		return SaveResult{}, endSpan(span, status, err)
	}
	_ = endSpan(span, status, nil)
	count, ok := payload.CartCount.count()
	return SaveResult{
		CartSubtotal: payload.CartSubtotal.amount().Round(2),
		CartCount:    count,
		HasCount:     ok,
		Message:      string(payload.Message),
	}, nil
}

// call performs the request and decodes a 2xx body into out. Non-2xx responses become
// RejectedError, carrying the envelope message when the body has one.
func (c *Client) call(ctx context.Context, method, endpoint string, body any, out any) (int, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = c.newJSONRequest(ctx, method, endpoint, body)
	} else {
		req, err = c.newRequest(ctx, method, endpoint, nil)
	}
	if err != nil {
		return 0, err
	}
	if method != http.MethodGet && method != http.MethodHead {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: resolve csrf token: %v", ErrTransport, err)
		}
		if token != "" {
			req.Header.Set(c.csrfHeader, token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errorFromBody(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode %s: %v", ErrMalformed, endpoint, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("cartapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, endpoint string, payload any) (*http.Request, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("cartapi: encode payload: %w", err)
	}
	req, err := c.newRequest(ctx, method, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) resolve(endpoint string) string {
	if endpoint == "" {
		return c.base.String()
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	ref := &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) startSpan(ctx context.Context, name, method, endpoint string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", c.resolve(endpoint)),
	)
	return ctx, span
}

func endSpan(span trace.Span, status int, err error) error {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func rejected(status int, env envelope) error {
	msg := string(env.Message)
	if msg == "" {
		msg = string(env.Error)
	}
	return &RejectedError{Status: status, Message: msg}
}

func errorFromBody(status int, body []byte) error {
	var env envelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		return rejected(status, env)
	}
	return &RejectedError{Status: status}
}
