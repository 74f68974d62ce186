// Package lfstack provides an intrusive lock-free LIFO used for the buffer
// pool sets. Items carry their own link pointer, so pushing and popping never
// allocate.
package lfstack

import (
	"runtime"
	"sync/atomic"
)

// Linkable is implemented by items held in a Stack. The link pointer belongs
// to the stack while the item is linked; callers must not touch it.
type Linkable[T any] interface {
	Next() *T
	SetNext(*T)
}

// Stack is an intrusive LIFO safe for concurrent use by any number of
// goroutines. A single-word head pointer carries the whole state; a
// distinguished sentinel value parks the head while a popper extracts the
// first item, and every other mutator spins until the head is restored.
//
// The zero value is an empty stack ready for use.
type Stack[T any, PT interface {
	Linkable[T]
	*T
}] struct {
	head     atomic.Pointer[T]
	sentinel T
}

func (s *Stack[T, PT]) parked() *T {
	return &s.sentinel
}

// Push links item as the new head.
func (s *Stack[T, PT]) Push(item PT) {
	for {
		head := s.head.Load()
		if head == s.parked() {
			runtime.Gosched()
			continue
		}
		item.SetNext(head)
		if s.head.CompareAndSwap(head, (*T)(item)) {
			return
		}
	}
}

// PushChain links a chain of items, already connected through their link
// pointers, ahead of the current head. Internal order of the chain is
// preserved.
func (s *Stack[T, PT]) PushChain(first PT) {
	if first == nil {
		return
	}
	last := first
	for last.Next() != nil {
		last = PT(last.Next())
	}
	for {
		head := s.head.Load()
		if head == s.parked() {
			runtime.Gosched()
			continue
		}
		last.SetNext(head)
		if s.head.CompareAndSwap(head, (*T)(first)) {
			return
		}
	}
}

// Pop unlinks and returns the most recently pushed item, or nil when the
// stack is empty. The head is parked with the sentinel while the first
// item's link is read, which keeps a concurrent push from observing a
// half-detached node.
func (s *Stack[T, PT]) Pop() PT {
	for {
		head := s.head.Load()
		if head == s.parked() {
			runtime.Gosched()
			continue
		}
		if head == nil {
			return nil
		}
		if !s.head.CompareAndSwap(head, s.parked()) {
			continue
		}
		s.head.Store(PT(head).Next())
		PT(head).SetNext(nil)
		return head
	}
}

// PopAll detaches the entire chain and returns its first item, or nil when
// the stack is empty. The returned items stay connected through their link
// pointers in LIFO order.
func (s *Stack[T, PT]) PopAll() PT {
	for {
		head := s.head.Load()
		if head == s.parked() {
			runtime.Gosched()
			continue
		}
		if head == nil {
			return nil
		}
		if s.head.CompareAndSwap(head, nil) {
			return head
		}
	}
}

// Walk calls f for every linked item, newest first, stopping early when f
// returns false. The caller must guarantee that no concurrent Pop or PopAll
// detaches items for the duration of the walk; concurrent pushes are safe
// but may be missed.
func (s *Stack[T, PT]) Walk(f func(PT) bool) {
	var head *T
	for {
		head = s.head.Load()
		if head != s.parked() {
			break
		}
		runtime.Gosched()
	}
	for item := head; item != nil; item = PT(item).Next() {
		if !f(item) {
			return
		}
	}
}

// Empty reports whether the stack had no items at the time of the call.
func (s *Stack[T, PT]) Empty() bool {
	for {
		head := s.head.Load()
		if head != s.parked() {
			return head == nil
		}
		runtime.Gosched()
	}
}
