// Package termview renders the cart synchronisation views as lines of text, for the
// cartsync command and for logs in tests.
package termview

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartsync"
)

// Screen serialises output from every view onto one writer.
type Screen struct {
	mu sync.Mutex
	w  io.Writer
}

// NewScreen wraps w.
func NewScreen(w io.Writer) *Screen {
	if w == nil {
		w = io.Discard
	}
	return &Screen{w: w}
}

func (s *Screen) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line+"\n")
}

// Badge prints the cart count whenever it changes.
type Badge struct {
	screen *Screen
}

// NewBadge returns the header cart badge.
func NewBadge(screen *Screen) *Badge { return &Badge{screen: screen} }

// RenderBadge implements cartsync.BadgeView.
func (b *Badge) RenderBadge(state cartsync.BadgeState, count int) {
	switch state {
	case cartsync.BadgeUnknown:
		b.screen.println("cart: ?")
	case cartsync.BadgeOptimistic:
		b.screen.println(fmt.Sprintf("cart: %d (updating)", count))
	default:
		b.screen.println(fmt.Sprintf("cart: %d", count))
	}
}

// ProceedBar is the category-page bar linking to the cart. It is hidden while the cart is
// empty.
type ProceedBar struct {
	screen  *Screen
	mu      sync.Mutex
	visible bool
}

// NewProceedBar returns a hidden proceed bar.
func NewProceedBar(screen *Screen) *ProceedBar { return &ProceedBar{screen: screen} }

// Visible reports whether the bar is shown.
func (p *ProceedBar) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// RenderBadge implements cartsync.BadgeView.
func (p *ProceedBar) RenderBadge(_ cartsync.BadgeState, count int) {
	p.mu.Lock()
	wasVisible := p.visible
	p.visible = count > 0
	p.mu.Unlock()

	switch {
	case count > 0:
		p.screen.println(fmt.Sprintf("proceed to cart (%s)", itemsLabel(count)))
	case wasVisible:
		p.screen.println("proceed bar hidden")
	}
}

// Drawer prints the mini-cart contents with the delivery hint and chat-order link.
type Drawer struct {
	screen *Screen
	site   cart.Storefront
	origin string
}

// NewDrawer returns a drawer for the storefront served at origin.
func NewDrawer(screen *Screen, site cart.Storefront, origin string) *Drawer {
	return &Drawer{screen: screen, site: site, origin: origin}
}

// RenderDrawer implements cartsync.DrawerView.
func (d *Drawer) RenderDrawer(snap cart.Snapshot) {
	d.screen.println(d.Format(snap))
}

// Format renders snap as the drawer would show it.
func (d *Drawer) Format(snap cart.Snapshot) string {
	var b strings.Builder
	if snap.Empty() {
		return "cart is empty"
	}
	fmt.Fprintf(&b, "┌ cart (%s)\n", itemsLabel(snap.Count))
	for _, it := range snap.Items {
		fmt.Fprintf(&b, "│ #%s %-24s x%-2d %s\n", it.ItemID, it.Name, it.Quantity, cart.FormatMoney(it.LineTotal, d.site.Currency))
	}
	fmt.Fprintf(&b, "│ subtotal %s\n", cart.FormatMoney(snap.Subtotal, d.site.Currency))
	if promo := cart.DeliveryPromo(snap.Subtotal, d.site.FreeDeliveryThreshold, d.site.Currency); promo.Text != "" {
		fmt.Fprintf(&b, "│ %s\n", promo.Text)
	}
	fmt.Fprintf(&b, "└ order: %s", cart.OrderLink(d.site, snap, d.origin))
	return b.String()
}

// Notifier prints notifications prefixed by their kind.
type Notifier struct {
	screen *Screen
}

// NewNotifier returns a notifier writing to screen.
func NewNotifier(screen *Screen) *Notifier { return &Notifier{screen: screen} }

// Notify implements cartsync.Notifier.
func (n *Notifier) Notify(note cartsync.Notification) {
	prefix := "ok"
	if note.Kind == cartsync.NotifyFailure {
		prefix = "error"
	}
	n.screen.println(prefix + ": " + note.Message)
}

// Navigator prints the full page a browser would have opened and remembers it.
type Navigator struct {
	screen *Screen
	origin string

	mu   sync.Mutex
	last string
}

// NewNavigator returns a navigator resolving paths against origin.
func NewNavigator(screen *Screen, origin string) *Navigator {
	return &Navigator{screen: screen, origin: strings.TrimRight(origin, "/")}
}

// Navigate implements cartsync.Navigator.
func (n *Navigator) Navigate(path string) {
	target := path
	if strings.HasPrefix(path, "/") {
		target = n.origin + path
	}
	n.mu.Lock()
	n.last = target
	n.mu.Unlock()
	n.screen.println("open " + target)
}

// Last returns the most recent navigation target.
func (n *Navigator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Stepper prints a category card's control for one product.
type Stepper struct {
	screen *Screen
	label  string
}

// NewStepper returns the card control for the product called label.
func NewStepper(screen *Screen, label string) *Stepper {
	return &Stepper{screen: screen, label: label}
}

// ShowAdd implements cartsync.StepperView.
func (s *Stepper) ShowAdd() {
	s.screen.println(s.label + ": [add]")
}

// ShowStepper implements cartsync.StepperView.
func (s *Stepper) ShowStepper(quantity int) {
	s.screen.println(fmt.Sprintf("%s: [-] %d [+]", s.label, quantity))
}

func itemsLabel(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

var (
	_ cartsync.BadgeView   = (*Badge)(nil)
	_ cartsync.BadgeView   = (*ProceedBar)(nil)
	_ cartsync.DrawerView  = (*Drawer)(nil)
	_ cartsync.Notifier    = (*Notifier)(nil)
	_ cartsync.Navigator   = (*Navigator)(nil)
	_ cartsync.StepperView = (*Stepper)(nil)
)
