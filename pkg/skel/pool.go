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

package skel

// slotPool is a fixed set of request slots that doubles as the
// dispatcher-to-worker handoff queue. All slots are allocated once at
// construction and recycled forever: free, claimed by the dispatcher,
// queued as work, claimed by a worker, free again.
//
// Capacity equals the worker count, which is the system's only
// back-pressure mechanism: once every slot is claimed, the dispatcher
// blocks in acquireFree and pending foreign calls stay queued on the
// non-secure side.
type slotPool struct {
	// free holds slots available for the dispatcher to claim.
	free chan *Slot

	// work holds slots carrying a pending operation, awaiting a
	// worker. A slot is never on both channels: the buffered channels
	// are the sole owners of free and queued slots, and a slot moves
	// between them only through the methods below.
	work chan *Slot
}

func newSlotPool(capacity int) *slotPool {
	p := &slotPool{
		free: make(chan *Slot, capacity),
		work: make(chan *Slot, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free <- new(Slot)
	}
	return p
}

// acquireFree blocks until a slot is free and claims it. The returned
// slot is fully reset; no state from a previous operation survives.
// done aborts the wait, returning nil.
func (p *slotPool) acquireFree(done <-chan struct{}) *Slot {
	select {
	case s := <-p.free:
		s.Reset()
		return s
	case <-done:
		return nil
	}
}

// release returns a slot to the free set, waking one blocked
// acquireFree if any. Releasing more slots than the pool owns means a
// slot was released twice; that breaks the single-owner invariant and
// panics.
func (p *slotPool) release(s *Slot) {
	select {
	case p.free <- s:
	default:
		panic("skel: slot released twice")
	}
}

// enqueueWork hands a claimed slot to the worker pool. The work
// channel's capacity equals the slot count, so this never blocks for
// a slot legitimately claimed from the pool.
func (p *slotPool) enqueueWork(s *Slot) {
	select {
	case p.work <- s:
	default:
		panic("skel: work queue overflow")
	}
}

// dequeueWork blocks until a work slot is available and claims it.
// done aborts the wait, returning nil.
func (p *slotPool) dequeueWork(done <-chan struct{}) *Slot {
	select {
	case s := <-p.work:
		return s
	case <-done:
		return nil
	}
}
