package cartd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/platform/httpx"
	"finitefield.org/storefront-cartsync/internal/platform/observability"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultCSRFHeader = "X-CSRFToken"
)

// Deps bundles the collaborators the cart service router needs.
type Deps struct {
	Store         Store
	Catalog       *Catalog
	Storefront    cart.Storefront
	Logger        *zap.Logger
	CSRFHeader    string
	SecureCookies bool
}

// NewRouter constructs the chi router serving storefront pages and the cart endpoints.
func NewRouter(deps Deps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Store
	if store == nil {
		store = NewMemoryStore(0)
	}
	header := strings.TrimSpace(deps.CSRFHeader)
	if header == "" {
		header = defaultCSRFHeader
	}

	carts := NewCartHandlers(store, deps.Catalog)
	pages := NewPageHandlers(carts, deps.Storefront)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		observability.InjectLoggerMiddleware(logger),
		observability.TraceMiddleware,
		sessionMiddleware(deps.SecureCookies),
		observability.RequestLoggerMiddleware,
		observability.RecoveryMiddleware(logger),
		middleware.Timeout(defaultTimeout),
	)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok"})
	})

	r.Group(func(site chi.Router) {
		site.Use(csrfMiddleware(header, deps.SecureCookies))
		site.Get("/", pages.home)
		site.Route("/cart", func(group chi.Router) {
			group.Get("/", pages.cartPage)
			carts.Routes(group)
		})
	})

	return r
}
