// Copyright 2026 The Sockskel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify provides a masked-event waiter.
//
// A Waiter accumulates event flags posted by Notify and releases a
// single waiting goroutine per batch of pending events. Events are
// level-triggered flags, not a queue: posting the same flag twice
// before the waiter wakes is indistinguishable from posting it once.
package notify

import "sync"

// Set is a bitmask of event flags.
type Set uint64

// NoEvents is the empty event set.
const NoEvents Set = 0

// Waiter is a single-consumer event sink. Any number of goroutines may
// call Notify; at most one goroutine should call Wait at a time.
//
// The zero value is invalid; use NewWaiter.
type Waiter struct {
	mu      sync.Mutex
	pending Set

	// posted is buffered so that a Notify during a window where no
	// goroutine is blocked in Wait still wakes the next Wait.
	posted chan struct{}
}

// NewWaiter returns a Waiter with no pending events.
func NewWaiter() *Waiter {
	return &Waiter{
		posted: make(chan struct{}, 1),
	}
}

// Notify posts the events in s to the waiter.
func (w *Waiter) Notify(s Set) {
	if s == NoEvents {
		return
	}
	w.mu.Lock()
	w.pending |= s
	w.mu.Unlock()
	select {
	case w.posted <- struct{}{}:
	default:
	}
}

// Pending returns the events that are posted but not yet consumed,
// without consuming them.
func (w *Waiter) Pending() Set {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Wait blocks until at least one event is pending, then clears and
// returns the entire pending set. done aborts the wait; on abort Wait
// returns NoEvents and false.
func (w *Waiter) Wait(done <-chan struct{}) (Set, bool) {
	for {
		w.mu.Lock()
		p := w.pending
		w.pending = 0
		w.mu.Unlock()
		if p != NoEvents {
			return p, true
		}
		select {
		case <-w.posted:
		case <-done:
			return NoEvents, false
		}
	}
}
