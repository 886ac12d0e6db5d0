package cartapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"finitefield.org/storefront-cartsync/internal/cart"
)

// StaticService keeps a cart in process. It serves tests and offline demos with the same
// surface as Client.
type StaticService struct {
	mu       sync.Mutex
	products map[cart.ID]cart.Item
	lines    []cart.Item
	saved    []cart.ID
	nextID   int

	// Err, when set, fails every call.
	Err error
}

// NewStaticService constructs a StaticService whose catalog holds products. Each product's
// ProductID keys it; quantities and item ids are ignored.
func NewStaticService(products ...cart.Item) *StaticService {
	s := &StaticService{products: make(map[cart.ID]cart.Item, len(products)), nextID: 1}
	for _, p := range products {
		p.ItemID = ""
		p.Quantity = 0
		p.LineTotal = decimal.Zero
		s.products[p.ProductID] = p
	}
	return s
}

// Mini returns the current snapshot.
func (s *StaticService) Mini(ctx context.Context) (cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return cart.Snapshot{}, s.Err
	}
	return s.snapshotLocked(), nil
}

// Summary returns the current count and subtotal.
func (s *StaticService) Summary(ctx context.Context) (cart.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return cart.Summary{}, s.Err
	}
	snap := s.snapshotLocked()
	return cart.Summary{Count: snap.Count, Subtotal: snap.Subtotal}, nil
}

// Add increments an existing line or appends a new one.
func (s *StaticService) Add(ctx context.Context, productID cart.ID, quantity int) (AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return AddResult{}, s.Err
	}
	product, ok := s.products[productID]
	if !ok {
		return AddResult{}, &RejectedError{Status: http.StatusNotFound, Message: "Product not found"}
	}
	if quantity < 1 {
		quantity = 1
	}
	idx := s.indexByProductLocked(productID)
	if idx >= 0 {
		s.lines[idx].Quantity = cart.ClampQuantity(s.lines[idx].Quantity + quantity)
	} else {
		line := product
		line.ItemID = cart.ID(strconv.Itoa(s.nextID))
		line.Quantity = cart.ClampQuantity(quantity)
		s.nextID++
		s.lines = append(s.lines, line)
	}
	snap := s.snapshotLocked()
	return AddResult{CartCount: snap.Count, HasCount: true, Message: "Added " + product.Name}, nil
}

// Update sets a line's quantity; zero or less deletes it.
func (s *StaticService) Update(ctx context.Context, itemID cart.ID, quantity int) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return UpdateResult{}, s.Err
	}
	idx := s.indexLocked(itemID)
	if idx < 0 {
		return UpdateResult{}, &RejectedError{Status: http.StatusNotFound, Message: "Item not found"}
	}
	result := UpdateResult{ItemID: itemID}
	if quantity <= 0 {
		s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
		result.Removed = true
	} else {
		s.lines[idx].Quantity = cart.ClampQuantity(quantity)
		line := s.lines[idx].Normalize()
		result.Quantity = line.Quantity
		result.ItemSubtotal = line.LineTotal
	}
	snap := s.snapshotLocked()
	result.CartSubtotal = snap.Subtotal
	result.CartCount = snap.Count
	result.HasCount = true
	return result, nil
}

// Remove deletes a line.
func (s *StaticService) Remove(ctx context.Context, itemID cart.ID) (UpdateResult, error) {
	return s.Update(ctx, itemID, 0)
}

// SaveForLater moves a line onto the saved list.
func (s *StaticService) SaveForLater(ctx context.Context, itemID cart.ID) (SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return SaveResult{}, s.Err
	}
	idx := s.indexLocked(itemID)
	if idx < 0 {
		return SaveResult{}, &RejectedError{Status: http.StatusNotFound, Message: "Item not found"}
	}
	productID := s.lines[idx].ProductID
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	found := false
	for _, id := range s.saved {
		if id == productID {
			found = true
			break
		}
	}
	if !found {
		s.saved = append(s.saved, productID)
	}
	snap := s.snapshotLocked()
	return SaveResult{CartSubtotal: snap.Subtotal, CartCount: snap.Count, HasCount: true, Message: "Saved for later"}, nil
}

// Saved lists product ids saved for later.
func (s *StaticService) Saved() []cart.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cart.ID(nil), s.saved...)
}

func (s *StaticService) snapshotLocked() cart.Snapshot {
	snap := cart.Snapshot{Items: make([]cart.Item, 0, len(s.lines)), Subtotal: decimal.Zero}
	for _, line := range s.lines {
		line.LineTotal = decimal.Zero
		line = line.Normalize()
		snap.Items = append(snap.Items, line)
		snap.Subtotal = snap.Subtotal.Add(line.LineTotal)
		snap.Count += line.Quantity
	}
	snap.Subtotal = snap.Subtotal.Round(2)
	return snap
}

func (s *StaticService) indexLocked(itemID cart.ID) int {
	for i, line := range s.lines {
		if line.ItemID == itemID {
			return i
		}
	}
	return -1
}

func (s *StaticService) indexByProductLocked(productID cart.ID) int {
	for i, line := range s.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
