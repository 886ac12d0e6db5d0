package cartapi

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"finitefield.org/storefront-cartsync/internal/cart"
)

// AddResult is the decoded response of POST /cart/add.
type AddResult struct {
	CartCount int
	HasCount  bool
	Message   string
}

// UpdateResult is the decoded response of POST /cart/update.
type UpdateResult struct {
	ItemID       cart.ID
	Quantity     int
	ItemSubtotal decimal.Decimal
	CartSubtotal decimal.Decimal
	CartCount    int
	HasCount     bool
	Removed      bool
	Message      string
}

// SaveResult is the decoded response of POST /cart/save.
type SaveResult struct {
	CartSubtotal decimal.Decimal
	CartCount    int
	HasCount     bool
	Message      string
}

// number decodes JSON numbers, numeric strings and null. Anything else decodes to an
// absent value instead of failing the whole payload.
type number struct {
	value decimal.Decimal
	set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	n.value, n.set = d, true
	return nil
}

func (n number) amount() decimal.Decimal {
	if !n.set {
		return decimal.Zero
	}
	return n.value
}

var (
	minWhole = decimal.NewFromInt(math.MinInt32)
	maxWhole = decimal.NewFromInt(math.MaxInt32)
)

// whole returns the integer part. Absent values and values outside the int32 range report
// false so a wrapped conversion never passes for a count.
func (n number) whole() (int, bool) {
	if !n.set {
		return 0, false
	}
	v := n.value.Truncate(0)
	if v.LessThan(minWhole) || v.GreaterThan(maxWhole) {
		return 0, false
	}
	return int(v.IntPart()), true
}

// count is whole floored at zero.
func (n number) count() (int, bool) {
	v, ok := n.whole()
	return max(0, v), ok
}

// flag decodes booleans leniently; "true", 1 and true are all true.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.ToLower(strings.TrimSpace(string(data))), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type text string

func (t *text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = ""
		return nil
	}
	*t = text(strings.TrimSpace(s))
	return nil
}

type envelope struct {
	OK      *flag `json:"ok"`
	Message text  `json:"message"`
	Error   text  `json:"error"`
}

func (e envelope) ok() bool { return e.OK != nil && bool(*e.OK) }

type wireItem struct {
	ItemID    cart.ID `json:"item_id"`
	ProductID cart.ID `json:"product_id"`
	Slug      text    `json:"slug"`
	Name      text    `json:"name"`
	ImageURL  text    `json:"image_url"`
	Price     number  `json:"price"`
	Quantity  number  `json:"quantity"`
	LineTotal number  `json:"line_total"`
}

type miniPayload struct {
	envelope
	Items    []json.RawMessage `json:"items"`
	Subtotal number            `json:"subtotal"`
	Count    number            `json:"count"`
}

type addPayload struct {
	envelope
	CartCount number `json:"cart_count"`
}

type updatePayload struct {
	envelope
	ItemID       cart.ID `json:"item_id"`
	Quantity     number  `json:"quantity"`
	ItemSubtotal number  `json:"item_subtotal"`
	CartSubtotal number  `json:"cart_subtotal"`
	CartCount    number  `json:"cart_count"`
	Removed      flag    `json:"removed"`
}

type savePayload struct {
	envelope
	CartSubtotal number `json:"cart_subtotal"`
	CartCount    number `json:"cart_count"`
}

type addRequest struct {
	ProductID cart.ID `json:"product_id"`
	Quantity  int     `json:"quantity"`
}

type updateRequest struct {
	ItemID   cart.ID `json:"item_id"`
	Quantity int     `json:"quantity"`
}

type saveRequest struct {
	ItemID cart.ID `json:"item_id"`
}

// snapshot converts the payload into a domain snapshot. Lines that fail to decode or
// carry no item id are dropped; a missing count is derived from the lines.
func (p miniPayload) snapshot() cart.Snapshot {
	snap := cart.Snapshot{
		Items:    make([]cart.Item, 0, len(p.Items)),
		Subtotal: p.Subtotal.amount().Round(2),
	}
	derived := 0
	for _, raw := range p.Items {
		var w wireItem
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		if w.ItemID.IsZero() {
			continue
		}
		quantity, _ := w.Quantity.whole()
		item := cart.Item{
			ItemID:    w.ItemID,
			ProductID: w.ProductID,
			Slug:      string(w.Slug),
			Name:      string(w.Name),
			ImageURL:  string(w.ImageURL),
			Price:     w.Price.amount(),
			Quantity:  quantity,
			LineTotal: w.LineTotal.amount(),
		}.Normalize()
		derived += item.Quantity
		snap.Items = append(snap.Items, item)
	}
	if count, ok := p.Count.count(); ok {
		snap.Count = count
	} else {
		snap.Count = derived
	}
	return snap
}
