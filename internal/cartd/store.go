package cartd

import (
	"context"
	"errors"
	"strconv"

	"finitefield.org/storefront-cartsync/internal/cart"
)

// ErrItemNotFound is returned when a session cart has no line with the requested id.
var ErrItemNotFound = errors.New("cartd: item not found")

// Line is one stored cart line. Prices live in the catalog, not the store.
type Line struct {
	ItemID    cart.ID `json:"item_id"`
	ProductID cart.ID `json:"product_id"`
	Quantity  int     `json:"quantity"`
}

// Cart is the stored state of one session.
type Cart struct {
	Lines  []Line    `json:"lines"`
	Saved  []cart.ID `json:"saved,omitempty"`
	NextID int64     `json:"next_id"`
}

// Store persists session carts. Update applies fn atomically and persists the result when
// fn returns nil.
type Store interface {
	Load(ctx context.Context, session string) (Cart, error)
	Update(ctx context.Context, session string, fn func(*Cart) error) (Cart, error)
}

// Add increments the line holding productID, capped at the maximum quantity, or appends a
// new line.
func (c *Cart) Add(productID cart.ID, quantity int) Line {
	if quantity < 1 {
		quantity = 1
	}
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines[i].Quantity = cart.ClampQuantity(c.Lines[i].Quantity + quantity)
			return c.Lines[i]
		}
	}
	c.NextID++
	line := Line{
		ItemID:    cart.ID(strconv.FormatInt(c.NextID, 10)),
		ProductID: productID,
		Quantity:  cart.ClampQuantity(quantity),
	}
	c.Lines = append(c.Lines, line)
	return line
}

// Set changes a line's quantity. Zero or less deletes the line; larger values are capped.
func (c *Cart) Set(itemID cart.ID, quantity int) (Line, error) {
	idx := c.index(itemID)
	if idx < 0 {
		return Line{}, ErrItemNotFound
	}
	if quantity <= 0 {
		line := c.Lines[idx]
		c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
		line.Quantity = 0
		return line, nil
	}
	c.Lines[idx].Quantity = cart.ClampQuantity(quantity)
	return c.Lines[idx], nil
}

// SaveForLater removes a line and remembers its product on the saved list.
func (c *Cart) SaveForLater(itemID cart.ID) (Line, error) {
	idx := c.index(itemID)
	if idx < 0 {
		return Line{}, ErrItemNotFound
	}
	line := c.Lines[idx]
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
	for _, id := range c.Saved {
		if id == line.ProductID {
			return line, nil
		}
	}
	c.Saved = append(c.Saved, line.ProductID)
	return line, nil
}

// Count sums the quantities of all lines.
func (c Cart) Count() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c Cart) index(itemID cart.ID) int {
	for i, l := range c.Lines {
		if l.ItemID == itemID {
			return i
		}
	}
	return -1
}

func (c Cart) clone() Cart {
	out := Cart{NextID: c.NextID}
	out.Lines = append([]Line(nil), c.Lines...)
	out.Saved = append([]cart.ID(nil), c.Saved...)
	return out
}
