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

// Package tschan defines the trusted-service channel used to exchange
// request records with the non-secure side of the system.
//
// The channel transfers a single fixed-layout parameter area per call.
// Control transfer is synchronous: Invoke does not return until the
// peer has finished processing the area, and the peer may mutate the
// area in place. Endpoints are not reentrant; callers must serialize
// invocations themselves.
package tschan

import (
	"context"
	"fmt"
	"sync"
)

// Status is the three-valued result of a channel invocation. It is
// deliberately narrow: anything beyond these values is a transport
// defect, not a protocol state.
type Status int

const (
	// Ok indicates the peer accepted and processed the parameter area.
	Ok Status = iota

	// Busy indicates the channel was mid-invocation. The channel is
	// not reentrant, so Busy signals contention, not corruption.
	Busy

	// NoHandler indicates the peer had no work or no handler for the
	// request. The dispatch daemon uses it as the end-of-drain marker.
	NoHandler
)

// String implements fmt.Stringer.String.
func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case Busy:
		return "Busy"
	case NoHandler:
		return "NoHandler"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Endpoint is the invocation primitive of the secure channel.
type Endpoint interface {
	// Invoke synchronously transfers the parameter area to the peer
	// and blocks until the peer returns control. The peer may rewrite
	// area in place; the caller observes those writes after Invoke
	// returns.
	Invoke(area []byte) Status
}

// Registry maps service names to endpoints. It is the discovery
// primitive: the non-secure transport registers its endpoint under a
// well-known name, and the skeleton daemon blocks in Discover until
// the name appears. Registration is an initialization barrier; an
// endpoint obtained from Discover is immutable afterwards.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]Endpoint

	// registered is closed and replaced on every Register call,
	// broadcasting to all pending Discover calls.
	registered chan struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints:  make(map[string]Endpoint),
		registered: make(chan struct{}),
	}
}

// Register makes ep discoverable under name. Registering the same name
// twice is a configuration error and panics.
func (r *Registry) Register(name string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[name]; ok {
		panic(fmt.Sprintf("tschan: service %q registered twice", name))
	}
	r.endpoints[name] = ep
	close(r.registered)
	r.registered = make(chan struct{})
}

// Discover blocks until an endpoint has been registered under name,
// then returns it. It returns ctx.Err() if ctx is canceled first.
func (r *Registry) Discover(ctx context.Context, name string) (Endpoint, error) {
	for {
		r.mu.Lock()
		ep, ok := r.endpoints[name]
		ch := r.registered
		r.mu.Unlock()
		if ok {
			return ep, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
