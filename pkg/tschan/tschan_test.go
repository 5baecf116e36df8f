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

package tschan

import (
	"context"
	"testing"
	"time"
)

type nopEndpoint struct{}

func (nopEndpoint) Invoke(area []byte) Status { return Ok }

func TestDiscoverAfterRegister(t *testing.T) {
	r := NewRegistry()
	ep := nopEndpoint{}
	r.Register("svc", ep)

	got, err := r.Discover(context.Background(), "svc")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if got != ep {
		t.Errorf("Discover returned %v, want the registered endpoint", got)
	}
}

func TestDiscoverBlocksUntilRegister(t *testing.T) {
	r := NewRegistry()
	type result struct {
		ep  Endpoint
		err error
	}
	resC := make(chan result, 1)
	go func() {
		ep, err := r.Discover(context.Background(), "svc")
		resC <- result{ep, err}
	}()

	select {
	case res := <-resC:
		t.Fatalf("Discover returned (%v, %v) before registration", res.ep, res.err)
	case <-time.After(50 * time.Millisecond):
	}

	// A registration under a different name must not satisfy the
	// pending Discover.
	r.Register("other", nopEndpoint{})
	select {
	case res := <-resC:
		t.Fatalf("Discover returned (%v, %v) on an unrelated registration", res.ep, res.err)
	case <-time.After(50 * time.Millisecond):
	}

	r.Register("svc", nopEndpoint{})
	select {
	case res := <-resC:
		if res.err != nil {
			t.Fatalf("Discover failed: %v", res.err)
		}
		if res.ep == nil {
			t.Error("Discover returned a nil endpoint")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Discover did not return after registration")
	}
}

func TestDiscoverCanceled(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Discover(ctx, "svc"); err != context.Canceled {
		t.Errorf("Discover returned %v, want context.Canceled", err)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("svc", nopEndpoint{})
	defer func() {
		if recover() == nil {
			t.Error("second Register did not panic")
		}
	}()
	r.Register("svc", nopEndpoint{})
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{
		Ok:         "Ok",
		Busy:       "Busy",
		NoHandler:  "NoHandler",
		Status(42): "Status(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
