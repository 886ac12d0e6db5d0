package cartsync

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartapi"
)

const (
	// DefaultPollInterval is how often Run refreshes the badge.
	DefaultPollInterval = 10 * time.Second
	// DefaultCartPath is the full-page cart used as the fallback destination.
	DefaultCartPath = "/cart/"

	snapshotKey = "snapshot"

	msgAdded       = "Added to cart"
	msgAddFailed   = "Unable to add to cart"
	msgUpdateFail  = "Unable to update cart"
	msgSaveFailed  = "Unable to save item"
	maxMessageSize = 200
)

var (
	errServiceRequired = errors.New("cartsync: service is required")
	errItemRequired    = errors.New("cartsync: item id is required")
	errProductRequired = errors.New("cartsync: product id is required")

	// ErrFallback wraps fetch failures after which the controller navigated to the full
	// cart page.
	ErrFallback = errors.New("cartsync: fell back to full cart page")
)

// Service is the cart service surface the controller reconciles against.
type Service interface {
	Mini(ctx context.Context) (cart.Snapshot, error)
	Summary(ctx context.Context) (cart.Summary, error)
	Add(ctx context.Context, productID cart.ID, quantity int) (cartapi.AddResult, error)
	Update(ctx context.Context, itemID cart.ID, quantity int) (cartapi.UpdateResult, error)
	SaveForLater(ctx context.Context, itemID cart.ID) (cartapi.SaveResult, error)
}

// Deps wires the controller's collaborators.
type Deps struct {
	Service       Service
	Badges        []BadgeView
	Drawer        DrawerView
	Notifier      Notifier
	Navigator     Navigator
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
	PollInterval  time.Duration
	CartPath      string
}

// Controller keeps the badge, drawer and steppers consistent with the server cart.
type Controller struct {
	svc       Service
	badges    []BadgeView
	drawer    DrawerView
	notifier  Notifier
	navigator Navigator
	logger    *zap.Logger
	metrics   *metrics
	policy    *bluemonday.Policy
	interval  time.Duration
	cartPath  string

	group     singleflight.Group
	fetching  atomic.Int32
	polling   atomic.Bool
	mu        sync.Mutex
	badge     badge
	items     *sequencer
	open      bool
	snapIssue uint64
	snapShown uint64
	navigated uint64
}

type fetchResult struct {
	snap cart.Snapshot
	tag  uint64
}

// New constructs a Controller.
func New(deps Deps) (*Controller, error) {
	if deps.Service == nil {
		return nil, errServiceRequired
	}

	badges := make([]BadgeView, 0, len(deps.Badges))
	for _, b := range deps.Badges {
		if b != nil {
			badges = append(badges, b)
		}
	}

	c := &Controller{
		svc:       deps.Service,
		badges:    badges,
		drawer:    deps.Drawer,
		notifier:  deps.Notifier,
		navigator: deps.Navigator,
		logger:    deps.Logger,
		policy:    bluemonday.StrictPolicy(),
		interval:  deps.PollInterval,
		cartPath:  strings.TrimSpace(deps.CartPath),
		items:     newSequencer(),
	}
	if c.drawer == nil {
		c.drawer = nopDrawer{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.navigator == nil {
		c.navigator = nopNavigator{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.cartPath == "" {
		c.cartPath = DefaultCartPath
	}
	provider := deps.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	c.metrics = newMetrics(provider)
	return c, nil
}

// Seed initialises the badge from the count rendered into the page.
func (c *Controller) Seed(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.badge.seed(count) {
		c.renderBadgeLocked()
	}
}

// BadgeState returns the badge lifecycle state.
func (c *Controller) BadgeState() BadgeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.badge.state()
}

// BadgeCount returns the displayed badge count.
func (c *Controller) BadgeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.badge.count()
}

// AppliedQuantity returns the quantity of the last applied change for an item.
func (c *Controller) AppliedQuantity(itemID cart.ID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.quantity(itemID)
}

// DrawerOpen reports whether the drawer is showing.
func (c *Controller) DrawerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Stats returns running totals of skipped polls, stale drops, rollbacks and fallbacks.
func (c *Controller) Stats() Stats {
	return c.metrics.snapshot()
}

// OpenDrawer fetches and renders the full snapshot. Concurrent opens share one fetch. On
// failure the controller navigates to the full cart page instead.
func (c *Controller) OpenDrawer(ctx context.Context) (cart.Snapshot, error) {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()

	res, err := c.sharedSnapshot(ctx)
	if err != nil {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		c.fallback(ctx, res.tag, "drawer_open", err)
		return cart.Snapshot{}, fmt.Errorf("%w: %w", ErrFallback, err)
	}
	return res.snap, nil
}

// CloseDrawer records that the drawer was dismissed.
func (c *Controller) CloseDrawer() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// Mutate sets an item's quantity, clamped to [0, 99]; zero removes it. A successful change
// is followed by an authoritative refetch. Failures notify without rolling anything back.
func (c *Controller) Mutate(ctx context.Context, itemID cart.ID, quantity int) error {
	if itemID.IsZero() {
		return errItemRequired
	}
	quantity = cart.ClampQuantity(quantity)

	c.mu.Lock()
	seq := c.items.issue(itemID)
	tag := c.badge.tag()
	c.mu.Unlock()

	logger := c.logger.With(zap.String("item_id", itemID.String()), zap.Int("quantity", quantity), zap.Uint64("seq", seq))

	res, err := c.svc.Update(ctx, itemID, quantity)

	c.mu.Lock()
	if c.items.stale(itemID, seq) {
		c.mu.Unlock()
		c.metrics.staleDropped(ctx, "mutation")
		logger.Debug("dropping stale mutation response", zap.Error(err))
		return nil
	}
	if err != nil {
		c.notifyLocked(NotifyFailure, c.failureMessage(err, msgUpdateFail))
		c.mu.Unlock()
		logger.Warn("cart update failed", zap.Error(err))
		return fmt.Errorf("cartsync: update item %s: %w", itemID, err)
	}
	applied := res.Quantity
	if res.Removed {
		applied = 0
	}
	c.items.apply(itemID, seq, applied)
	if res.HasCount {
		c.applyCountLocked(ctx, tag, res.CartCount, sourceMutation)
	}
	c.mu.Unlock()

	return c.refetch(ctx)
}

// Remove deletes an item. It sends the same request as Mutate with quantity zero.
func (c *Controller) Remove(ctx context.Context, itemID cart.ID) error {
	return c.Mutate(ctx, itemID, 0)
}

// SaveForLater moves an item to the saved list, then refetches like Mutate.
func (c *Controller) SaveForLater(ctx context.Context, itemID cart.ID) error {
	if itemID.IsZero() {
		return errItemRequired
	}

	c.mu.Lock()
	seq := c.items.issue(itemID)
	tag := c.badge.tag()
	c.mu.Unlock()

	res, err := c.svc.SaveForLater(ctx, itemID)

	c.mu.Lock()
	if c.items.stale(itemID, seq) {
		c.mu.Unlock()
		c.metrics.staleDropped(ctx, "save")
		return nil
	}
	if err != nil {
		c.notifyLocked(NotifyFailure, c.failureMessage(err, msgSaveFailed))
		c.mu.Unlock()
		c.logger.Warn("save for later failed", zap.String("item_id", itemID.String()), zap.Error(err))
		return fmt.Errorf("cartsync: save item %s: %w", itemID, err)
	}
	c.items.apply(itemID, seq, 0)
	if res.HasCount {
		c.applyCountLocked(ctx, tag, res.CartCount, sourceMutation)
	}
	if msg := c.sanitize(res.Message); msg != "" {
		c.notifyLocked(NotifySuccess, msg)
	}
	c.mu.Unlock()

	return c.refetch(ctx)
}

// AddToCart bumps the badge immediately, then confirms it with the server count or rolls
// the bump back when the add fails.
func (c *Controller) AddToCart(ctx context.Context, productID cart.ID, quantity int) error {
	if productID.IsZero() {
		return errProductRequired
	}
	if quantity < 1 {
		quantity = 1
	}
	quantity = cart.ClampQuantity(quantity)

	c.mu.Lock()
	c.badge.pending += quantity
	tag := c.badge.tag()
	c.renderBadgeLocked()
	c.mu.Unlock()

	res, err := c.svc.Add(ctx, productID, quantity)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.badge.pending -= quantity
	if err != nil {
		c.renderBadgeLocked()
		c.notifyLocked(NotifyFailure, c.failureMessage(err, msgAddFailed))
		c.metrics.rolledBack(ctx)
		c.logger.Warn("add to cart failed",
			zap.String("product_id", productID.String()),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
		return fmt.Errorf("cartsync: add product %s: %w", productID, err)
	}
	if res.HasCount {
		c.applyCountLocked(ctx, tag, res.CartCount, sourceAdd)
	} else {
		// Without a server count the increment is the best confirmation available.
		c.badge.base += quantity
		c.badge.known = true
	}
	c.renderBadgeLocked()

	msg := c.sanitize(res.Message)
	if msg == "" {
		msg = msgAdded
	}
	c.notifyLocked(NotifySuccess, msg)
	return nil
}

// sharedSnapshot joins an in-flight snapshot fetch or starts one.
func (c *Controller) sharedSnapshot(ctx context.Context) (fetchResult, error) {
	v, err, _ := c.group.Do(snapshotKey, func() (any, error) {
		return c.loadSnapshot(ctx)
	})
	res, _ := v.(fetchResult)
	return res, err
}

// freshSnapshot never joins a fetch issued before the call, so it cannot observe state from
// before an earlier mutation.
func (c *Controller) freshSnapshot(ctx context.Context) (fetchResult, error) {
	c.group.Forget(snapshotKey)
	return c.sharedSnapshot(ctx)
}

func (c *Controller) refetch(ctx context.Context) error {
	res, err := c.freshSnapshot(ctx)
	if err != nil {
		c.fallback(ctx, res.tag, "refetch", err)
		return fmt.Errorf("%w: %w", ErrFallback, err)
	}
	return nil
}

func (c *Controller) loadSnapshot(ctx context.Context) (fetchResult, error) {
	c.fetching.Add(1)
	defer c.fetching.Add(-1)

	c.mu.Lock()
	c.snapIssue++
	res := fetchResult{tag: c.snapIssue}
	countTag := c.badge.tag()
	c.mu.Unlock()

	snap, err := c.svc.Mini(ctx)
	if err != nil {
		return res, err
	}
	res.snap = snap

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCountLocked(ctx, countTag, snap.Count, sourceSnapshot)
	if res.tag <= c.snapShown {
		c.metrics.staleDropped(ctx, "snapshot")
		return res, nil
	}
	c.snapShown = res.tag
	if c.open {
		c.drawer.RenderDrawer(snap)
	}
	return res, nil
}

// fallback navigates to the full cart page once per failed fetch.
func (c *Controller) fallback(ctx context.Context, tag uint64, cause string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag != 0 && tag <= c.navigated {
		return
	}
	c.navigated = max(c.navigated, tag)
	c.metrics.fellBack(ctx, cause)
	c.logger.Warn("falling back to cart page",
		zap.String("cause", cause),
		zap.String("path", c.cartPath),
		zap.Error(err),
	)
	c.navigator.Navigate(c.cartPath)
}

func (c *Controller) applyCountLocked(ctx context.Context, tag uint64, count int, src countSource) {
	if !c.badge.apply(tag, count, src) {
		if tag <= c.badge.applied {
			c.metrics.staleDropped(ctx, "count")
		}
		return
	}
	c.renderBadgeLocked()
}

func (c *Controller) renderBadgeLocked() {
	if !c.badge.changed() {
		return
	}
	state, count := c.badge.state(), c.badge.count()
	for _, view := range c.badges {
		view.RenderBadge(state, count)
	}
}

func (c *Controller) notifyLocked(kind NotificationKind, msg string) {
	c.notifier.Notify(Notification{Kind: kind, Message: msg})
}

func (c *Controller) failureMessage(err error, fallback string) string {
	var rejected *cartapi.RejectedError
	if errors.As(err, &rejected) {
		if msg := c.sanitize(rejected.Message); msg != "" {
			return msg
		}
	}
	return fallback
}

func (c *Controller) sanitize(msg string) string {
	msg = strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(msg)))
	if r := []rune(msg); len(r) > maxMessageSize {
		msg = string(r[:maxMessageSize])
	}
	return msg
}
