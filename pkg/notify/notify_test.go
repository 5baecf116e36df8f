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

package notify

import (
	"testing"
	"time"
)

const (
	evA Set = 1 << iota
	evB
)

func TestWaitReturnsPosted(t *testing.T) {
	w := NewWaiter()
	w.Notify(evA)
	got, ok := w.Wait(nil)
	if !ok {
		t.Fatal("Wait aborted unexpectedly")
	}
	if got != evA {
		t.Errorf("Wait returned %#x, want %#x", got, evA)
	}
}

func TestWaitCoalescesFlags(t *testing.T) {
	w := NewWaiter()
	w.Notify(evA)
	w.Notify(evA | evB)
	got, _ := w.Wait(nil)
	if got != evA|evB {
		t.Errorf("Wait returned %#x, want %#x", got, evA|evB)
	}
	if p := w.Pending(); p != NoEvents {
		t.Errorf("Pending() = %#x after Wait, want 0", p)
	}
}

func TestWaitBlocksUntilNotify(t *testing.T) {
	w := NewWaiter()
	woke := make(chan Set)
	go func() {
		s, _ := w.Wait(nil)
		woke <- s
	}()

	select {
	case s := <-woke:
		t.Fatalf("Wait returned %#x before any Notify", s)
	case <-time.After(10 * time.Millisecond):
	}

	w.Notify(evB)
	select {
	case s := <-woke:
		if s != evB {
			t.Errorf("Wait returned %#x, want %#x", s, evB)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Notify")
	}
}

func TestWaitAbort(t *testing.T) {
	w := NewWaiter()
	done := make(chan struct{})
	close(done)
	if s, ok := w.Wait(done); ok {
		t.Errorf("Wait returned (%#x, true) on closed done channel", s)
	}
}

func TestNotifyWhileIdleWakesNextWait(t *testing.T) {
	// A Notify posted while nobody is waiting must not be lost.
	w := NewWaiter()
	w.Notify(evA)
	time.Sleep(10 * time.Millisecond)
	got, ok := w.Wait(nil)
	if !ok || got != evA {
		t.Errorf("Wait = (%#x, %t), want (%#x, true)", got, ok, evA)
	}
}
