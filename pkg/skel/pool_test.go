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

import (
	"sync"
	"testing"
	"time"
)

func TestPoolCapacity(t *testing.T) {
	const capacity = 4
	p := newSlotPool(capacity)

	// All slots can be claimed without blocking.
	var slots []*Slot
	for i := 0; i < capacity; i++ {
		s := p.acquireFree(nil)
		if s == nil {
			t.Fatalf("acquireFree returned nil on slot %d of %d", i, capacity)
		}
		slots = append(slots, s)
	}

	// The next acquire blocks until a slot is released.
	acquired := make(chan *Slot)
	go func() {
		acquired <- p.acquireFree(nil)
	}()
	select {
	case <-acquired:
		t.Fatal("acquireFree succeeded with all slots claimed")
	case <-time.After(10 * time.Millisecond):
	}

	p.release(slots[0])
	select {
	case s := <-acquired:
		if s != slots[0] {
			t.Error("acquireFree returned a slot that was not the released one")
		}
	case <-time.After(time.Second):
		t.Fatal("acquireFree still blocked after release")
	}
}

func TestPoolDistinctSlots(t *testing.T) {
	p := newSlotPool(8)
	seen := make(map[*Slot]bool)
	for i := 0; i < 8; i++ {
		s := p.acquireFree(nil)
		if seen[s] {
			t.Fatal("pool handed out the same slot twice")
		}
		seen[s] = true
	}
}

func TestPoolResetsOnAcquire(t *testing.T) {
	p := newSlotPool(1)
	s := p.acquireFree(nil)
	s.Op = OpConnect
	s.Result = 42
	s.Params[0] = 7
	s.attachBuf(1, make([]byte, 16))
	p.release(s)

	s = p.acquireFree(nil)
	if s.Op != 0 || s.Result != 0 || s.Params[0] != 0 || s.BufMask != 0 || s.bufs[1] != nil {
		t.Errorf("reacquired slot leaked previous state: %+v", s.Record)
	}
}

func TestPoolDoubleReleasePanics(t *testing.T) {
	p := newSlotPool(2)
	s := p.acquireFree(nil)
	p.release(s)
	defer func() {
		if recover() == nil {
			t.Error("double release did not panic")
		}
	}()
	p.release(s)
}

func TestPoolWorkQueue(t *testing.T) {
	p := newSlotPool(2)
	a := p.acquireFree(nil)
	b := p.acquireFree(nil)
	a.Op = OpRecv
	b.Op = OpSend
	p.enqueueWork(a)
	p.enqueueWork(b)

	if got := p.dequeueWork(nil); got != a {
		t.Errorf("dequeueWork returned %p, want %p", got, a)
	}
	if got := p.dequeueWork(nil); got != b {
		t.Errorf("dequeueWork returned %p, want %p", got, b)
	}
}

func TestPoolDequeueAbort(t *testing.T) {
	p := newSlotPool(1)
	done := make(chan struct{})
	close(done)
	if s := p.dequeueWork(done); s != nil {
		t.Error("dequeueWork returned a slot on aborted wait")
	}
	if s := p.acquireFree(done); s == nil {
		// A free slot beats the abort; either outcome is legal, but a
		// nil result with slots free must not lose the slot.
		if s2 := p.acquireFree(nil); s2 == nil {
			t.Error("slot lost after aborted acquire")
		}
	}
}

func TestPoolConcurrentStress(t *testing.T) {
	const (
		capacity = 4
		rounds   = 1000
	)
	p := newSlotPool(capacity)

	// One producer moves slots free->work, several consumers move
	// them work->free, mimicking the dispatcher/worker split.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			s := p.acquireFree(nil)
			if s == nil {
				t.Error("acquireFree returned nil mid-stress")
				return
			}
			p.enqueueWork(s)
		}
	}()

	var consumed sync.WaitGroup
	for w := 0; w < capacity; w++ {
		consumed.Add(1)
		go func() {
			defer consumed.Done()
			for {
				s := p.dequeueWork(nil)
				if s.Op == OpFreeAddrInfo { // poison
					return
				}
				p.release(s)
			}
		}()
	}
	wg.Wait()

	// Poison the workers and drain.
	for w := 0; w < capacity; w++ {
		s := p.acquireFree(nil)
		s.Op = OpFreeAddrInfo
		p.enqueueWork(s)
	}
	consumed.Wait()
}
