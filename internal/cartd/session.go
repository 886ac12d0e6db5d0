package cartd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"finitefield.org/storefront-cartsync/internal/platform/httpx"
	"finitefield.org/storefront-cartsync/internal/platform/requestctx"
)

const (
	sessionCookieName = "cartd_session"
	csrfCookieName    = "csrf_token"
	sessionMaxAge     = 30 * 24 * time.Hour
	csrfMaxAge        = 24 * time.Hour
)

type csrfContextKey struct{}

// sessionMiddleware ensures every request carries a ULID session cookie and exposes the id
// through requestctx.
func sessionMiddleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(sessionCookieName); err == nil {
				if parsed, err := ulid.ParseStrict(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = ulid.Make().String()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					Expires:  time.Now().Add(sessionMaxAge),
				})
			}
			ctx := requestctx.WithSessionID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// csrfMiddleware issues a double-submit token cookie and requires unsafe methods to echo it
// in header.
func csrfMiddleware(header string, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(csrfCookieName); err == nil && len(c.Value) == 32 {
				token = c.Value
			}
			if token == "" {
				token = newCSRFToken()
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					Expires:  time.Now().Add(csrfMaxAge),
				})
			}

			if !isSafeMethod(r.Method) {
				sent := r.Header.Get(header)
				if sent == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
					httpx.WriteError(r.Context(), w, httpx.NewError("csrf_invalid", "invalid CSRF token", http.StatusForbidden))
					return
				}
			}

			ctx := context.WithValue(r.Context(), csrfContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func csrfToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfContextKey{}).(string)
	return token
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
