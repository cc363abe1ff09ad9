package live

import "sync"

// Closer is the teardown half of a subscription.
type Closer interface {
	Close()
}

// Slot holds at most one open subscription for a logical position
// (say, "the current view's transaction feed"). Swap guarantees the
// old subscription is fully torn down before the replacement opens, so
// a profile or identity switch can never leak a stale snapshot into
// the next scope.
type Slot struct {
	mu      sync.Mutex
	current Closer
}

// Swap closes the current occupant, then calls open for the
// replacement. If open fails the slot is left empty.
func (s *Slot) Swap(open func() (Closer, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	next, err := open()
	if err != nil {
		return err
	}
	s.current = next
	return nil
}

// Close empties the slot.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}
