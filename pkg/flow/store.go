// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package flow

import "sync"

// Store is the concurrent, order-preserving registry of live flows: a
// map keyed by id plus an append-only timeline of ids recording arrival
// order. Every id in the timeline has a map entry and vice versa; on
// Remove, both sides update atomically under the same exclusive lock.
//
// The zero value is not usable; construct with NewStore.
type Store struct {
	mu       sync.RWMutex
	flows    map[string]*Flow
	timeline []string
}

// NewStore constructs an empty flow store.
func NewStore() *Store {
	return &Store{
		flows: make(map[string]*Flow),
	}
}

// Add deposits a flow, appending its id to the timeline. Add completes
// in O(1) excluding allocation, since it's on the capture hot path.
func (s *Store) Add(f *Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID()] = f
	s.timeline = append(s.timeline, f.ID())
}

// Get returns the flow with the given id, or ok=false if it is absent
// (evicted, or never existed).
func (s *Store) Get(id string) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	return f, ok
}

// GetMut returns the flow with the given id for in-place mutation (e.g.
// attaching a response). Callers must not retain the pointer past the
// flow's documented mutability window.
func (s *Store) GetMut(id string) (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	return f, ok
}

// Remove deletes a flow by id, preserving the relative order of the
// flows that remain, and returns it if it was present.
func (s *Store) Remove(id string) (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, false
	}
	delete(s.flows, id)
	for i, tid := range s.timeline {
		if tid == id {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			break
		}
	}
	return f, true
}

// Len returns the number of live flows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timeline)
}

// ByIndex returns the n-th flow in arrival order, matching Timeline()[n].
func (s *Store) ByIndex(n int) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n >= len(s.timeline) {
		return nil, false
	}
	id := s.timeline[n]
	f, ok := s.flows[id]
	if !ok {
		// The timeline is the sole source of truth for ordering, but every
		// id in it must have a map entry; a miss here is an invariant
		// violation, not a logic fault callers should handle.
		panic("flow: timeline id has no store entry")
	}
	return f, true
}

// Timeline returns a snapshot of the live flows in arrival order. It is
// a copy, not a live iterator: Go has no borrow checker to make a lazy
// iterator safe across a released read lock, so callers get a stable
// slice instead.
func (s *Store) Timeline() []*Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Flow, 0, len(s.timeline))
	for _, id := range s.timeline {
		f, ok := s.flows[id]
		if !ok {
			panic("flow: timeline id has no store entry")
		}
		out = append(out, f)
	}
	return out
}
