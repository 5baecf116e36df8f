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

// Package bufalloc provides a byte-budgeted buffer allocator.
//
// Marshaling buffers for foreign requests are sized by the untrusted
// caller, so allocations must be able to fail: the allocator accounts
// every live buffer against a fixed budget and refuses allocations
// that would exceed it. Callers translate a failed allocation into an
// out-of-memory result without touching the foreign data.
package bufalloc

import (
	"fmt"
	"sync"
)

// Allocator hands out zeroed buffers against a fixed byte budget.
// It is safe for concurrent use.
type Allocator struct {
	mu   sync.Mutex
	used uint64

	// budget is the maximum number of live bytes. 0 means unlimited.
	// budget is immutable.
	budget uint64
}

// New returns an Allocator with the given byte budget. A budget of 0
// disables accounting limits (allocations never fail).
func New(budget uint64) *Allocator {
	return &Allocator{budget: budget}
}

// Alloc returns a zeroed buffer of n bytes, or nil if the budget would
// be exceeded. A successful Alloc must be paired with exactly one Free
// of the returned buffer.
func (a *Allocator) Alloc(n int) []byte {
	if n < 0 {
		return nil
	}
	a.mu.Lock()
	if a.budget != 0 && a.used+uint64(n) > a.budget {
		a.mu.Unlock()
		return nil
	}
	a.used += uint64(n)
	a.mu.Unlock()
	return make([]byte, n)
}

// Free returns buf's bytes to the budget. The buffer may have been
// resliced; accounting uses its capacity, which Alloc fixes at the
// requested size. Freeing more bytes than are live panics, since it
// means a buffer was freed twice or never allocated here.
func (a *Allocator) Free(buf []byte) {
	n := uint64(cap(buf))
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > a.used {
		panic(fmt.Sprintf("bufalloc: freeing %d bytes with only %d live", n, a.used))
	}
	a.used -= n
}

// Used returns the number of live bytes.
func (a *Allocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
