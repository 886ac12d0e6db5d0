package cartd

import (
	"bytes"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/platform/requestctx"
)

var pageTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"money": func(currency string, v any) string {
		switch amount := v.(type) {
		case Product:
			return cart.FormatMoney(amount.Price, currency)
		case cart.Item:
			return cart.FormatMoney(amount.LineTotal, currency)
		case cart.Snapshot:
			return cart.FormatMoney(amount.Subtotal, currency)
		}
		return ""
	},
}).Parse(`{{define "head"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="csrf-token" content="{{.CSRFToken}}">
<title>{{.Title}} | {{.Site.SiteName}}</title>
</head>
<body>
<header><a href="/">{{.Site.SiteName}}</a> <a href="/cart/" class="cart-link">Cart <span class="cart-count" data-count="{{.Cart.Count}}">{{.Cart.Count}}</span></a></header>
{{end}}
{{define "home"}}{{template "head" .}}<main>
<ul class="products">
{{range .Products}}<li data-product-id="{{.ID}}"><span class="name">{{.Name}}</span> <span class="price">{{money $.Site.Currency .}}</span>
<button type="button" class="add-to-cart" data-product-id="{{.ID}}">Add to cart</button></li>
{{end}}</ul>
</main></body></html>{{end}}
{{define "cart"}}{{template "head" .}}<main>
{{if .Cart.Empty}}<p class="empty">Your cart is empty.</p>{{else}}<ul class="lines">
{{range .Cart.Items}}<li data-item-id="{{.ItemID}}"><span class="name">{{.Name}}</span> x<span class="qty">{{.Quantity}}</span> <span class="line-total">{{money $.Site.Currency .}}</span></li>
{{end}}</ul>
<p class="subtotal">Subtotal: {{money .Site.Currency .Cart}}</p>
{{with .Promo.Text}}<p class="promo">{{.}}</p>{{end}}
<a class="order" href="{{.OrderLink}}">Order via WhatsApp</a>{{end}}
</main></body></html>{{end}}`))

type pageData struct {
	Title     string
	CSRFToken string
	Site      cart.Storefront
	Products  []Product
	Cart      cart.Snapshot
	Promo     cart.Promo
	OrderLink template.URL
}

// PageHandlers renders the storefront HTML pages that carry the anti-forgery token.
type PageHandlers struct {
	carts *CartHandlers
	site  cart.Storefront
}

// NewPageHandlers constructs page handlers sharing the cart handlers' store and catalog.
func NewPageHandlers(carts *CartHandlers, site cart.Storefront) *PageHandlers {
	if site.SiteName == "" {
		site.SiteName = "Storefront"
	}
	if site.Currency == "" {
		site.Currency = cart.DefaultCurrency
	}
	return &PageHandlers{carts: carts, site: site}
}

func (h *PageHandlers) home(w http.ResponseWriter, r *http.Request) {
	data, ok := h.baseData(w, r, "Shop")
	if !ok {
		return
	}
	data.Products = h.carts.catalog.Products()
	h.render(w, r, "home", data)
}

func (h *PageHandlers) cartPage(w http.ResponseWriter, r *http.Request) {
	data, ok := h.baseData(w, r, "Cart")
	if !ok {
		return
	}
	data.Promo = cart.DeliveryPromo(data.Cart.Subtotal, h.site.FreeDeliveryThreshold, h.site.Currency)
	data.OrderLink = template.URL(cart.OrderLink(h.site, data.Cart, origin(r)))
	h.render(w, r, "cart", data)
}

func (h *PageHandlers) baseData(w http.ResponseWriter, r *http.Request, title string) (pageData, bool) {
	ctx := r.Context()
	stored, err := h.carts.store.Load(ctx, requestctx.SessionID(ctx))
	if err != nil {
		h.carts.writeStoreError(w, r, err)
		return pageData{}, false
	}
	return pageData{
		Title:     title,
		CSRFToken: csrfToken(ctx),
		Site:      h.site,
		Cart:      h.carts.project(stored),
	}, true
}

func (h *PageHandlers) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		requestctx.Logger(r.Context()).Error("render page", zap.String("template", name), zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
