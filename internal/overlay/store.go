package overlay

import "sync/atomic"

// Store holds the last-known-good overlay state. Readers get an immutable
// snapshot without locking; writers build a new state and swap it in.
type Store struct {
	current atomic.Pointer[State]
	version atomic.Uint64
}

// NewStore returns a store seeded with the given state (nil means empty).
func NewStore(seed *State) *Store {
	s := &Store{}
	s.current.Store(seed.clone())
	return s
}

// Snapshot returns the current state. It is never nil and must not be mutated.
func (s *Store) Snapshot() *State {
	return s.current.Load()
}

// Apply merges the present fields of u into the current state and returns the result.
func (s *Store) Apply(u Update) *State {
	if u.Empty() {
		return s.Snapshot()
	}
	for {
		prev := s.current.Load()
		next := prev.merge(u)
		if s.current.CompareAndSwap(prev, next) {
			s.version.Add(1)
			return next
		}
	}
}

// Version counts successful applies; status output uses it to show refresh activity.
func (s *Store) Version() uint64 {
	return s.version.Load()
}
