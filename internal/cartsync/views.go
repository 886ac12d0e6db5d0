package cartsync

import "finitefield.org/storefront-cartsync/internal/cart"

// BadgeView renders the cart-count badge. The category proceed bar is a second BadgeView.
// Views are called with the controller lock held and must not call back into it.
type BadgeView interface {
	RenderBadge(state BadgeState, count int)
}

// DrawerView renders the mini-cart drawer contents.
type DrawerView interface {
	RenderDrawer(snap cart.Snapshot)
}

// NotificationKind distinguishes success from failure toasts.
type NotificationKind int

const (
	NotifySuccess NotificationKind = iota + 1
	NotifyFailure
)

func (k NotificationKind) String() string {
	switch k {
	case NotifySuccess:
		return "success"
	case NotifyFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Notification is a transient message shown to the shopper.
type Notification struct {
	Kind    NotificationKind
	Message string
}

// Notifier shows transient notifications.
type Notifier interface {
	Notify(n Notification)
}

// Navigator performs full-page navigation.
type Navigator interface {
	Navigate(path string)
}

// StepperView toggles a category card between the Add affordance and the quantity stepper.
type StepperView interface {
	ShowAdd()
	ShowStepper(quantity int)
}

type nopDrawer struct{}

func (nopDrawer) RenderDrawer(cart.Snapshot) {}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}

type nopStepper struct{}

func (nopStepper) ShowAdd()        {}
func (nopStepper) ShowStepper(int) {}
