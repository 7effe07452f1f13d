// Package changes tracks which entity fields were modified so updates can send a
// partial merge instead of the whole entity.
//
// Entities opt in either by embedding Set:
//
//	type Order struct {
//	    changes.Set
//	    PartitionKey string
//	    RowKey       string
//	    Status       string
//	}
//
//	order.Status = "shipped"
//	order.Mark("Status")
//
// or by being wrapped explicitly with Track.
package changes

import "sync"

// Tracker is implemented by entities that record their own modified fields
type Tracker interface {
	ChangedFields() []string
	ResetChanges()
}

// Set is an ordered set of modified field names. The zero value is ready to use.
type Set struct {
	index map[string]struct{}
	order []string
	mu    sync.Mutex
}

// Mark records fields as modified
func (s *Set) Mark(fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	for _, f := range fields {
		if _, ok := s.index[f]; ok {
			continue
		}
		s.index[f] = struct{}{}
		s.order = append(s.order, f)
	}
}

// Has reports whether field was marked
func (s *Set) Has(field string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[field]
	return ok
}

// ChangedFields returns the marked fields in marking order
func (s *Set) ChangedFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// ResetChanges clears the set
func (s *Set) ResetChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = nil
	s.order = nil
}

// Tracked decorates a plain entity value with a change set
type Tracked[T any] struct {
	entity  T
	changes Set
}

// Track wraps entity with an empty change set
func Track[T any](entity T) *Tracked[T] {
	return &Tracked[T]{entity: entity}
}

// Entity returns the current entity value
func (t *Tracked[T]) Entity() T {
	return t.entity
}

// Ptr returns a pointer to the wrapped entity. Writes through it are not tracked.
func (t *Tracked[T]) Ptr() *T {
	return &t.entity
}

// Update applies mutate and marks fields as modified
func (t *Tracked[T]) Update(mutate func(*T), fields ...string) {
	mutate(&t.entity)
	t.changes.Mark(fields...)
}

// Replace swaps the wrapped entity without marking anything, e.g. after a store round trip
func (t *Tracked[T]) Replace(entity T) {
	t.entity = entity
}

// ChangedFields implements Tracker
func (t *Tracked[T]) ChangedFields() []string {
	return t.changes.ChangedFields()
}

// ResetChanges implements Tracker
func (t *Tracked[T]) ResetChanges() {
	t.changes.ResetChanges()
}
