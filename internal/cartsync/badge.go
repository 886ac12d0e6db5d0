package cartsync

// BadgeState is the lifecycle of the cart-count badge.
type BadgeState int

const (
	// BadgeUnknown means no count has been seeded or fetched yet.
	BadgeUnknown BadgeState = iota
	// BadgeKnown means the count reflects the last value seeded or confirmed by the server.
	BadgeKnown
	// BadgeOptimistic means at least one add is in flight and counted ahead of the server.
	BadgeOptimistic
)

func (s BadgeState) String() string {
	switch s {
	case BadgeKnown:
		return "known"
	case BadgeOptimistic:
		return "optimistic"
	default:
		return "unknown"
	}
}

type countSource int

const (
	sourcePoll countSource = iota
	sourceSnapshot
	sourceMutation
	sourceAdd
)

// badge keeps a confirmed base plus the optimistic delta of in-flight adds. The displayed
// count is their sum, so a confirmed value never double-counts an optimistic one.
type badge struct {
	known   bool
	base    int
	pending int

	// issued tags each server count request; applied is the tag of the count in base.
	issued  uint64
	applied uint64

	lastState BadgeState
	lastCount int
	rendered  bool
}

func (b *badge) state() BadgeState {
	switch {
	case b.pending > 0:
		return BadgeOptimistic
	case b.known:
		return BadgeKnown
	default:
		return BadgeUnknown
	}
}

func (b *badge) count() int {
	return max(0, b.base+b.pending)
}

func (b *badge) tag() uint64 {
	b.issued++
	return b.issued
}

// seed sets the page-rendered count while nothing newer is known.
func (b *badge) seed(count int) bool {
	if b.known || b.applied > 0 {
		return false
	}
	b.base = max(0, count)
	b.known = true
	return true
}

// apply records a server count issued under tag. It reports false for counts older than
// the one already applied, and for passive counts that arrive while an add is in flight.
func (b *badge) apply(tag uint64, count int, src countSource) bool {
	if tag <= b.applied {
		return false
	}
	if b.pending > 0 && src != sourceAdd {
		return false
	}
	b.base = max(0, count)
	b.applied = tag
	b.known = true
	return true
}

// changed reports whether the display differs from what views last saw, and records it.
func (b *badge) changed() bool {
	state, count := b.state(), b.count()
	if b.rendered && state == b.lastState && count == b.lastCount {
		return false
	}
	b.lastState, b.lastCount, b.rendered = state, count, true
	return true
}
