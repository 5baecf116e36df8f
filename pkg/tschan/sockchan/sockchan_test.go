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

package sockchan_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"sockskel.dev/sockskel/pkg/tschan"
	"sockskel.dev/sockskel/pkg/tschan/sockchan"
)

// reverseService answers every invocation by reversing the parameter
// area in place.
type reverseService struct {
	status tschan.Status
}

func (s reverseService) Invoke(area []byte) tschan.Status {
	for i, j := 0, len(area)-1; i < j; i, j = i+1, j-1 {
		area[i], area[j] = area[j], area[i]
	}
	return s.status
}

func pipe(t *testing.T, wake func()) (*sockchan.Endpoint, *sockchan.Peer) {
	t.Helper()
	ec, pc := net.Pipe()
	e := sockchan.NewEndpoint(ec, wake)
	p := sockchan.NewPeer(pc)
	t.Cleanup(func() {
		e.Close()
		p.Close()
	})
	return e, p
}

func TestInvokeRoundTrip(t *testing.T) {
	e, p := pipe(t, func() {})
	go p.Serve(reverseService{status: tschan.Ok})

	area := []byte{1, 2, 3, 4, 5}
	if status := e.Invoke(area); status != tschan.Ok {
		t.Fatalf("Invoke returned %v, want Ok", status)
	}
	if want := []byte{5, 4, 3, 2, 1}; !bytes.Equal(area, want) {
		t.Errorf("peer mutation not reflected: got % x, want % x", area, want)
	}
}

func TestInvokeReportsPeerStatus(t *testing.T) {
	e, p := pipe(t, func() {})
	go p.Serve(reverseService{status: tschan.NoHandler})

	if status := e.Invoke([]byte{1}); status != tschan.NoHandler {
		t.Errorf("Invoke returned %v, want NoHandler", status)
	}
}

func TestNotifyWakes(t *testing.T) {
	woke := make(chan struct{}, 1)
	e, p := pipe(t, func() { woke <- struct{}{} })
	_ = e

	if err := p.Notify(); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("notify frame never reached the wake callback")
	}
}

func TestNotifyBetweenCalls(t *testing.T) {
	woke := make(chan struct{}, 1)
	e, p := pipe(t, func() { woke <- struct{}{} })
	go p.Serve(reverseService{status: tschan.Ok})

	if status := e.Invoke([]byte{1, 2}); status != tschan.Ok {
		t.Fatalf("first Invoke returned %v, want Ok", status)
	}
	if err := p.Notify(); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("notify frame never reached the wake callback")
	}
	if status := e.Invoke([]byte{3, 4}); status != tschan.Ok {
		t.Fatalf("second Invoke returned %v, want Ok", status)
	}
}

func TestDeadTransport(t *testing.T) {
	e, p := pipe(t, func() {})
	p.Close()

	// A dead stream quiesces the caller instead of wedging it.
	if status := e.Invoke([]byte{1}); status != tschan.NoHandler {
		t.Errorf("Invoke on a dead transport returned %v, want NoHandler", status)
	}
}
