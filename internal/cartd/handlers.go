package cartd

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/platform/httpx"
	"finitefield.org/storefront-cartsync/internal/platform/requestctx"
)

const maxCartBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
	errInvalidInput = errors.New("invalid input")
)

// CartHandlers serves the session cart endpoints under /cart.
type CartHandlers struct {
	store   Store
	catalog *Catalog
}

// NewCartHandlers constructs handlers backed by the given store and catalog.
func NewCartHandlers(store Store, catalog *Catalog) *CartHandlers {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &CartHandlers{store: store, catalog: catalog}
}

// Routes wires the cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/mini", h.mini)
	r.Post("/add", h.add)
	r.Post("/update", h.update)
	r.Post("/save", h.save)
}

type miniItem struct {
	ItemID    cart.ID     `json:"item_id"`
	ProductID cart.ID     `json:"product_id"`
	Slug      string      `json:"slug"`
	Name      string      `json:"name"`
	ImageURL  string      `json:"image_url,omitempty"`
	Price     json.Number `json:"price"`
	Quantity  int         `json:"quantity"`
	LineTotal json.Number `json:"line_total"`
}

type miniResponse struct {
	OK       bool        `json:"ok"`
	Items    []miniItem  `json:"items"`
	Subtotal json.Number `json:"subtotal"`
	Count    int         `json:"count"`
}

type addResponse struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	CartCount int    `json:"cart_count"`
}

type updateResponse struct {
	OK           bool        `json:"ok"`
	ItemID       cart.ID     `json:"item_id"`
	Quantity     int         `json:"quantity"`
	ItemSubtotal json.Number `json:"item_subtotal"`
	CartSubtotal json.Number `json:"cart_subtotal"`
	CartCount    int         `json:"cart_count"`
	Removed      bool        `json:"removed"`
}

type saveResponse struct {
	OK           bool        `json:"ok"`
	Message      string      `json:"message"`
	CartSubtotal json.Number `json:"cart_subtotal"`
	CartCount    int         `json:"cart_count"`
}

type mutationRequest struct {
	ProductID cart.ID     `json:"product_id"`
	ItemID    cart.ID     `json:"item_id"`
	Quantity  json.Number `json:"quantity"`
}

func (h *CartHandlers) mini(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stored, err := h.store.Load(ctx, requestctx.SessionID(ctx))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	view := h.project(stored)
	resp := miniResponse{
		OK:       true,
		Items:    make([]miniItem, 0, len(view.Items)),
		Subtotal: money(view.Subtotal),
		Count:    view.Count,
	}
	for _, it := range view.Items {
		resp.Items = append(resp.Items, miniItem{
			ItemID:    it.ItemID,
			ProductID: it.ProductID,
			Slug:      it.Slug,
			Name:      it.Name,
			ImageURL:  it.ImageURL,
			Price:     money(it.Price),
			Quantity:  it.Quantity,
			LineTotal: money(it.LineTotal),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CartHandlers) add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := readMutation(r)
	if err != nil {
		writeBodyError(w, r, err, "Invalid product")
		return
	}
	quantity := 1
	if req.Quantity != "" {
		q, err := strconv.Atoi(req.Quantity.String())
		if err != nil {
			writeInvalid(w, r, "Invalid product")
			return
		}
		quantity = max(1, q)
	}
	if req.ProductID.IsZero() {
		writeInvalid(w, r, "Invalid product")
		return
	}
	product, ok := h.catalog.Lookup(req.ProductID)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "Product not found", http.StatusNotFound))
		return
	}

	stored, err := h.store.Update(ctx, requestctx.SessionID(ctx), func(c *Cart) error {
		c.Add(product.ID, quantity)
		return nil
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, addResponse{
		OK:        true,
		Message:   "Added " + product.Name,
		CartCount: stored.Count(),
	})
}

func (h *CartHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := readMutation(r)
	if err != nil {
		writeBodyError(w, r, err, "Invalid input")
		return
	}
	quantity, err := strconv.Atoi(req.Quantity.String())
	if err != nil || req.ItemID.IsZero() {
		writeInvalid(w, r, "Invalid input")
		return
	}

	var line Line
	stored, err := h.store.Update(ctx, requestctx.SessionID(ctx), func(c *Cart) error {
		var err error
		line, err = c.Set(req.ItemID, quantity)
		return err
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	view := h.project(stored)
	itemSubtotal := decimal.Zero
	if line.Quantity > 0 {
		if it, ok := view.Find(line.ItemID); ok {
			itemSubtotal = it.LineTotal
		}
	}
	httpx.WriteJSON(w, http.StatusOK, updateResponse{
		OK:           true,
		ItemID:       line.ItemID,
		Quantity:     line.Quantity,
		ItemSubtotal: money(itemSubtotal),
		CartSubtotal: money(view.Subtotal),
		CartCount:    view.Count,
		Removed:      line.Quantity == 0,
	})
}

func (h *CartHandlers) save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := readMutation(r)
	if err != nil {
		writeBodyError(w, r, err, "Invalid input")
		return
	}
	if req.ItemID.IsZero() {
		writeInvalid(w, r, "Invalid input")
		return
	}

	stored, err := h.store.Update(ctx, requestctx.SessionID(ctx), func(c *Cart) error {
		_, err := c.SaveForLater(req.ItemID)
		return err
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	view := h.project(stored)
	httpx.WriteJSON(w, http.StatusOK, saveResponse{
		OK:           true,
		Message:      "Saved for later",
		CartSubtotal: money(view.Subtotal),
		CartCount:    view.Count,
	})
}

// project joins stored lines with catalog data. Lines whose product left the catalog
// are skipped.
func (h *CartHandlers) project(stored Cart) cart.Snapshot {
	snap := cart.Snapshot{Items: make([]cart.Item, 0, len(stored.Lines)), Subtotal: decimal.Zero}
	for _, line := range stored.Lines {
		product, ok := h.catalog.Lookup(line.ProductID)
		if !ok {
			continue
		}
		item := cart.Item{
			ItemID:    line.ItemID,
			ProductID: product.ID,
			Slug:      product.Slug,
			Name:      product.Name,
			ImageURL:  product.ImageURL,
			Price:     product.Price,
			Quantity:  line.Quantity,
		}.Normalize()
		snap.Items = append(snap.Items, item)
		snap.Subtotal = snap.Subtotal.Add(item.LineTotal)
		snap.Count += item.Quantity
	}
	return snap
}

func (h *CartHandlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, ErrItemNotFound) {
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "Item not found", http.StatusNotFound))
		return
	}
	requestctx.Logger(ctx).Error("cart store failure", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("cart_store_unavailable", "cart storage is unavailable", http.StatusServiceUnavailable))
}

func writeInvalid(w http.ResponseWriter, r *http.Request, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	}
	writeInvalid(w, r, message)
}

// readMutation accepts a JSON body or an urlencoded form.
func readMutation(r *http.Request) (mutationRequest, error) {
	var req mutationRequest
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		return req, err
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return req, errInvalidInput
		}
		req.ProductID = cart.ID(strings.TrimSpace(values.Get("product_id")))
		req.ItemID = cart.ID(strings.TrimSpace(values.Get("item_id")))
		req.Quantity = json.Number(strings.TrimSpace(values.Get("quantity")))
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errInvalidInput
	}
	return req, nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}
