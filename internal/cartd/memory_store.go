package cartd

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	cart      Cart
	expiresAt time.Time
}

// MemoryStore keeps carts in process. Entries idle for longer than the TTL are dropped.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore constructs a MemoryStore. A non-positive ttl keeps carts forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Load returns the session cart, empty when absent or expired.
func (s *MemoryStore) Load(ctx context.Context, session string) (Cart, error) {
	if err := ctx.Err(); err != nil {
		return Cart{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(session).clone(), nil
}

// Update applies fn to the session cart under the store lock.
func (s *MemoryStore) Update(ctx context.Context, session string, fn func(*Cart) error) (Cart, error) {
	if err := ctx.Err(); err != nil {
		return Cart{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.loadLocked(session).clone()
	if err := fn(&working); err != nil {
		return Cart{}, err
	}
	entry := memoryEntry{cart: working}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[session] = entry
	return working.clone(), nil
}

func (s *MemoryStore) loadLocked(session string) Cart {
	entry, ok := s.entries[session]
	if !ok {
		return Cart{}
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, session)
		return Cart{}
	}
	return entry.cart
}
