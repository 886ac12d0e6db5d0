package cartapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ErrTokenNotFound is returned when a page carries no anti-forgery token.
var ErrTokenNotFound = errors.New("cartapi: csrf token not found")

// DiscoverToken loads pageURL and reads the anti-forgery token from its
// <meta name="csrf-token"> tag, falling back to a hidden csrf_token form field.
func DiscoverToken(ctx context.Context, client HTTPClient, pageURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("cartapi: build token request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrTransport, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &RejectedError{Status: resp.StatusCode}
	}
	return TokenFromHTML(io.LimitReader(resp.Body, maxBodyBytes))
}

// TokenFromHTML extracts the anti-forgery token from an HTML document.
func TokenFromHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: parse page: %v", ErrMalformed, err)
	}
	token := strings.TrimSpace(doc.Find(`meta[name="csrf-token"]`).First().AttrOr("content", ""))
	if token == "" {
		token = strings.TrimSpace(doc.Find(`input[name="csrf_token"]`).First().AttrOr("value", ""))
	}
	if token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// PageTokenSource discovers the token from a storefront page on first use and caches it.
type PageTokenSource struct {
	client  HTTPClient
	pageURL string

	mu    sync.Mutex
	token string
}

// NewPageTokenSource constructs a PageTokenSource reading pageURL with client.
func NewPageTokenSource(client HTTPClient, pageURL string) *PageTokenSource {
	return &PageTokenSource{client: client, pageURL: pageURL}
}

// Token returns the cached token, discovering it when none is cached yet.
func (p *PageTokenSource) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}
	token, err := DiscoverToken(ctx, p.client, p.pageURL)
	if err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}

// Reset drops the cached token so the next call rediscovers it.
func (p *PageTokenSource) Reset() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}
