package qcache

import (
	"sync"
)

// observerSet is an insertion-ordered set of subscriptions to a Query, keyed
// by observer id. Relative subscribe order is preserved so that notification
// fan-out (and tests asserting on it) is deterministic. Adapted from the
// teacher's depSet, which preserved insertion order for a dependency list;
// here the ordered payload is a subscriber handle instead of a Dependency.
type observerSet struct {
	mux   sync.RWMutex
	order []string
	byID  map[string]queryObserverHandle
}

// queryObserverHandle is the minimal surface the Query needs from an
// observer to notify it; the full *QueryObserver implements it.
type queryObserverHandle interface {
	id() string
	onQueryUpdate()
}

func newObserverSet() *observerSet {
	return &observerSet{
		order: make([]string, 0, 4),
		byID:  make(map[string]queryObserverHandle),
	}
}

// Add registers o under its id if not already present. Returns true if it
// was newly added.
func (s *observerSet) Add(o queryObserverHandle) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	id := o.id()
	if _, ok := s.byID[id]; ok {
		return false
	}
	s.order = append(s.order, id)
	s.byID[id] = o
	return true
}

// Remove unregisters the observer with the given id. Returns true if it was
// present.
func (s *observerSet) Remove(id string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered observers.
func (s *observerSet) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.order)
}

// List returns the subscribe-ordered list of observers.
func (s *observerSet) List() []queryObserverHandle {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]queryObserverHandle, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// orderedStringSlotSet maintains an insertion-ordered list of string slots
// (used by QueriesObserver.SetKeys to drop duplicate hashes from a new key
// list while preserving order) — the same "ordered dedup list"
// shape as observerSet, specialized to plain strings.
type orderedStringSlotSet struct {
	list []string
	seen map[string]struct{}
}

func newOrderedStringSlotSet(capHint int) *orderedStringSlotSet {
	return &orderedStringSlotSet{
		list: make([]string, 0, capHint),
		seen: make(map[string]struct{}, capHint),
	}
}

func (s *orderedStringSlotSet) Add(v string) bool {
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.list = append(s.list, v)
	s.seen[v] = struct{}{}
	return true
}

func (s *orderedStringSlotSet) Has(v string) bool {
	_, ok := s.seen[v]
	return ok
}

func (s *orderedStringSlotSet) List() []string {
	return s.list[:]
}
