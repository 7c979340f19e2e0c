package signature

import "sync"

// Store is the in-memory signature list. It only ever changes through
// ReplaceAll and Prepend, and never re-sorts: insertion order is the order.
type Store struct {
	mu    sync.RWMutex
	items []Signature
}

func NewStore() *Store {
	return &Store{}
}

// ReplaceAll swaps in a full newest-first list, as loaded at startup.
func (s *Store) ReplaceAll(list []Signature) {
	items := make([]Signature, len(list))
	copy(items, list)

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// Prepend puts a freshly committed signature at the front.
func (s *Store) Prepend(sig Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Signature, 0, len(s.items)+1)
	items = append(items, sig)
	items = append(items, s.items...)
	s.items = items
}

// Snapshot returns a copy of the current list, newest first.
func (s *Store) Snapshot() []Signature {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Signature, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
