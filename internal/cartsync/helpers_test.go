package cartsync_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartapi"
	"finitefield.org/storefront-cartsync/internal/cartsync"
)

type stubService struct {
	miniFunc    func(ctx context.Context) (cart.Snapshot, error)
	summaryFunc func(ctx context.Context) (cart.Summary, error)
	addFunc     func(ctx context.Context, productID cart.ID, quantity int) (cartapi.AddResult, error)
	updateFunc  func(ctx context.Context, itemID cart.ID, quantity int) (cartapi.UpdateResult, error)
	saveFunc    func(ctx context.Context, itemID cart.ID) (cartapi.SaveResult, error)

	miniCalls    atomic.Int32
	summaryCalls atomic.Int32
	addCalls     atomic.Int32
	updateCalls  atomic.Int32
}

func (s *stubService) Mini(ctx context.Context) (cart.Snapshot, error) {
	s.miniCalls.Add(1)
	if s.miniFunc != nil {
		return s.miniFunc(ctx)
	}
	return cart.Snapshot{}, nil
}

func (s *stubService) Summary(ctx context.Context) (cart.Summary, error) {
	s.summaryCalls.Add(1)
	if s.summaryFunc != nil {
		return s.summaryFunc(ctx)
	}
	return cart.Summary{}, errors.New("not implemented")
}

func (s *stubService) Add(ctx context.Context, productID cart.ID, quantity int) (cartapi.AddResult, error) {
	s.addCalls.Add(1)
	if s.addFunc != nil {
		return s.addFunc(ctx, productID, quantity)
	}
	return cartapi.AddResult{}, errors.New("not implemented")
}

func (s *stubService) Update(ctx context.Context, itemID cart.ID, quantity int) (cartapi.UpdateResult, error) {
	s.updateCalls.Add(1)
	if s.updateFunc != nil {
		return s.updateFunc(ctx, itemID, quantity)
	}
	return cartapi.UpdateResult{}, errors.New("not implemented")
}

func (s *stubService) SaveForLater(ctx context.Context, itemID cart.ID) (cartapi.SaveResult, error) {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, itemID)
	}
	return cartapi.SaveResult{}, errors.New("not implemented")
}

type badgeRender struct {
	State cartsync.BadgeState
	Count int
}

// recorder implements every view interface and keeps what it was asked to show.
type recorder struct {
	mu            sync.Mutex
	badges        []badgeRender
	drawers       []cart.Snapshot
	notifications []cartsync.Notification
	navigations   []string
}

func (r *recorder) RenderBadge(state cartsync.BadgeState, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.badges = append(r.badges, badgeRender{State: state, Count: count})
}

func (r *recorder) RenderDrawer(snap cart.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawers = append(r.drawers, snap)
}

func (r *recorder) Notify(n cartsync.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navigations = append(r.navigations, path)
}

func (r *recorder) badgeCounts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.badges))
	for _, b := range r.badges {
		out = append(out, b.Count)
	}
	return out
}

func (r *recorder) lastDrawer() (cart.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drawers) == 0 {
		return cart.Snapshot{}, false
	}
	return r.drawers[len(r.drawers)-1], true
}

func (r *recorder) drawerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drawers)
}

func (r *recorder) notes() []cartsync.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cartsync.Notification(nil), r.notifications...)
}

func (r *recorder) navs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.navigations...)
}

func newController(t *testing.T, svc cartsync.Service, rec *recorder) *cartsync.Controller {
	t.Helper()
	ctrl, err := cartsync.New(cartsync.Deps{
		Service:   svc,
		Badges:    []cartsync.BadgeView{rec},
		Drawer:    rec,
		Notifier:  rec,
		Navigator: rec,
	})
	require.NoError(t, err)
	return ctrl
}

// gate blocks a stub call until released and signals when the call has started.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gate) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func snapshotOf(items ...cart.Item) cart.Snapshot {
	snap := cart.Snapshot{Items: items}
	for _, it := range items {
		snap.Count += it.Quantity
	}
	return snap
}
