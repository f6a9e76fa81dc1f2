// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package watch implements a single-writer, multi-reader "latest value"
// channel: exactly the shape tokio::sync::watch provides, which Go's
// standard library and the rest of the retrieval pack have no drop-in
// equivalent for. A Sender publishes successive values; any number of
// Receivers can Borrow() the latest one without contending on a lock
// held by the publisher, and can Wait() for the next change.
package watch

import "sync"

// Sender is the single owner of a watched value. Only the component
// that constructed the channel (the host, per the proxy core's external
// contract) should hold a Sender.
type Sender[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	changed chan struct{}
}

// Receiver observes the latest value published by a Sender. Receivers
// are cheap to Clone and never block a Sender's Send.
type Receiver[T any] struct {
	sender *Sender[T]
}

// NewChannel constructs a watch channel seeded with an initial value.
func NewChannel[T any](initial T) (*Sender[T], *Receiver[T]) {
	s := &Sender[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
	return s, &Receiver[T]{sender: s}
}

// Send publishes a new value, making it immediately visible to every
// existing and future Receiver.Borrow() call, and waking any goroutine
// blocked in Wait.
func (s *Sender[T]) Send(v T) {
	s.mu.Lock()
	s.value = v
	s.version++
	old := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()
	close(old)
}

// Receiver returns a Receiver observing this Sender's values.
func (s *Sender[T]) Receiver() *Receiver[T] {
	return &Receiver[T]{sender: s}
}

// Borrow returns the most recently sent value. It never blocks.
func (r *Receiver[T]) Borrow() T {
	r.sender.mu.RLock()
	defer r.sender.mu.RUnlock()
	return r.sender.value
}

// Clone returns an independent Receiver observing the same Sender.
func (r *Receiver[T]) Clone() *Receiver[T] {
	return &Receiver[T]{sender: r.sender}
}

// Wait blocks until the next Send call, or until done is closed,
// whichever happens first. It returns the value observed after waking,
// and false if done fired first.
func (r *Receiver[T]) Wait(done <-chan struct{}) (T, bool) {
	r.sender.mu.RLock()
	ch := r.sender.changed
	r.sender.mu.RUnlock()

	select {
	case <-ch:
		return r.Borrow(), true
	case <-done:
		var zero T
		return zero, false
	}
}
