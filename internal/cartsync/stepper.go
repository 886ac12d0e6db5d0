package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/storefront-cartsync/internal/cart"
)

// Stepper is the quantity control on a category card. It shows an Add affordance at zero
// and a stepper otherwise. Going from zero adds to the cart; later steps mutate the line.
// Server calls run one at a time in issue order, so a step never resolves its line while an
// earlier add is still in flight.
type Stepper struct {
	c         *Controller
	productID cart.ID
	view      StepperView

	mu        sync.Mutex
	quantity  int
	confirmed int
	tail      chan struct{}
}

// NewStepper attaches a stepper for productID starting at quantity.
func (c *Controller) NewStepper(productID cart.ID, quantity int, view StepperView) *Stepper {
	if view == nil {
		view = nopStepper{}
	}
	quantity = cart.ClampQuantity(quantity)
	s := &Stepper{c: c, productID: productID, view: view, quantity: quantity, confirmed: quantity}
	s.render(s.quantity)
	return s
}

// Quantity returns the quantity the stepper currently shows.
func (s *Stepper) Quantity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantity
}

// Increment steps the quantity up by one.
func (s *Stepper) Increment(ctx context.Context) error {
	return s.step(ctx, 1)
}

// Decrement steps the quantity down by one.
func (s *Stepper) Decrement(ctx context.Context) error {
	return s.step(ctx, -1)
}

func (s *Stepper) step(ctx context.Context, delta int) error {
	s.mu.Lock()
	next := s.quantity + delta
	s.mu.Unlock()
	return s.Set(ctx, next)
}

// Set moves the stepper to quantity, clamped to [0, 99]. The view updates at once; the
// server call waits for the stepper's earlier calls and the view reverts to the last
// confirmed quantity if the server rejects it and no later step has been shown.
func (s *Stepper) Set(ctx context.Context, quantity int) error {
	if s.productID.IsZero() {
		return errProductRequired
	}
	quantity = cart.ClampQuantity(quantity)

	s.mu.Lock()
	prev := s.quantity
	if quantity == prev {
		s.mu.Unlock()
		return nil
	}
	s.quantity = quantity
	s.render(quantity)
	wait := s.tail
	done := make(chan struct{})
	s.tail = done
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			// Keep the chain ordered for later steps.
			go func() {
				<-wait
				close(done)
			}()
			s.revert(quantity, prev)
			return ctx.Err()
		}
	}
	defer close(done)

	s.mu.Lock()
	from := s.confirmed
	s.mu.Unlock()

	var err error
	switch {
	case from == quantity:
	case from == 0:
		err = s.c.AddToCart(ctx, s.productID, quantity)
	default:
		err = s.c.setProductQuantity(ctx, s.productID, quantity)
	}
	if err == nil || errors.Is(err, ErrFallback) {
		s.mu.Lock()
		s.confirmed = quantity
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	to := s.confirmed
	s.mu.Unlock()
	s.revert(quantity, to)
	return err
}

// revert shows to again when the view still shows quantity.
func (s *Stepper) revert(quantity, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quantity == quantity && quantity != to {
		s.quantity = to
		s.render(to)
	}
}

func (s *Stepper) render(quantity int) {
	if quantity == 0 {
		s.view.ShowAdd()
		return
	}
	s.view.ShowStepper(quantity)
}

// setProductQuantity resolves the line holding productID from a fresh snapshot and sets it
// to quantity. With no line the server holds none of the product, so adding quantity
// reaches the target.
func (c *Controller) setProductQuantity(ctx context.Context, productID cart.ID, quantity int) error {
	res, err := c.freshSnapshot(ctx)
	if err != nil {
		c.mu.Lock()
		c.notifyLocked(NotifyFailure, c.failureMessage(err, msgUpdateFail))
		c.mu.Unlock()
		c.logger.Warn("resolve cart line failed", zap.String("product_id", productID.String()), zap.Error(err))
		return fmt.Errorf("cartsync: resolve product %s: %w", productID, err)
	}

	item, ok := res.snap.FindByProduct(productID)
	if !ok {
		if quantity > 0 {
			return c.AddToCart(ctx, productID, quantity)
		}
		return nil
	}
	if item.Quantity == quantity {
		return nil
	}
	return c.Mutate(ctx, item.ItemID, quantity)
}
