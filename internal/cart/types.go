package cart

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity bounds accepted by the cart service for a single line.
const (
	MinQuantity = 0
	MaxQuantity = 99
)

// ID identifies a cart line or a product. The wire carries identifiers either as JSON
// numbers or as strings; both decode to the same ID.
type ID string

// String returns the identifier as text.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("cart: decode id: %w", err)
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cart: invalid id %s", raw)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric identifiers as JSON numbers so integer-keyed backends accept them.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) numeric() bool {
	s := string(id)
	if s == "" || len(s) > 18 {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Item is one line of the server-held cart. It is a projection of server state and is
// never treated as locally authoritative.
type Item struct {
	ItemID    ID
	ProductID ID
	Slug      string
	Name      string
	ImageURL  string
	Price     decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Normalize clamps the quantity, rounds money to two places and derives the line total
// when the server omitted it.
func (it Item) Normalize() Item {
	it.Slug = strings.TrimSpace(it.Slug)
	it.Name = strings.TrimSpace(it.Name)
	it.ImageURL = strings.TrimSpace(it.ImageURL)
	it.Quantity = ClampQuantity(it.Quantity)
	it.Price = it.Price.Round(2)
	if it.LineTotal.IsZero() {
		it.LineTotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
	}
	it.LineTotal = it.LineTotal.Round(2)
	return it
}

// Snapshot is a complete view of the cart as returned by one fetch. Snapshots are replaced
// wholesale; they are never merged.
type Snapshot struct {
	Items    []Item
	Subtotal decimal.Decimal
	Count    int
}

// Empty reports whether the snapshot has no lines.
func (s Snapshot) Empty() bool { return len(s.Items) == 0 }

// Find returns the line with the given item id.
func (s Snapshot) Find(itemID ID) (Item, bool) {
	for _, it := range s.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return Item{}, false
}

// FindByProduct returns the first line holding the given product.
func (s Snapshot) FindByProduct(productID ID) (Item, bool) {
	for _, it := range s.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return Item{}, false
}

// Summary is the lightweight cart view used by background polling.
type Summary struct {
	Count    int
	Subtotal decimal.Decimal
}

// ClampQuantity coerces q into [MinQuantity, MaxQuantity].
func ClampQuantity(q int) int {
	if q < MinQuantity {
		return MinQuantity
	}
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}
