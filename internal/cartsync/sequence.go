package cartsync

import "finitefield.org/storefront-cartsync/internal/cart"

type itemSequence struct {
	issued   uint64
	applied  uint64
	quantity int
	known    bool
}

// sequencer orders quantity changes per item: the last issued change wins no matter the
// order responses arrive in.
type sequencer struct {
	items map[cart.ID]*itemSequence
}

func newSequencer() *sequencer {
	return &sequencer{items: make(map[cart.ID]*itemSequence)}
}

func (s *sequencer) entry(id cart.ID) *itemSequence {
	e, ok := s.items[id]
	if !ok {
		e = &itemSequence{}
		s.items[id] = e
	}
	return e
}

func (s *sequencer) issue(id cart.ID) uint64 {
	e := s.entry(id)
	e.issued++
	return e.issued
}

func (s *sequencer) stale(id cart.ID, seq uint64) bool {
	return seq < s.entry(id).applied
}

func (s *sequencer) apply(id cart.ID, seq uint64, quantity int) {
	e := s.entry(id)
	e.applied = seq
	e.quantity = quantity
	e.known = true
}

func (s *sequencer) quantity(id cart.ID) (int, bool) {
	e, ok := s.items[id]
	if !ok || !e.known {
		return 0, false
	}
	return e.quantity, true
}
