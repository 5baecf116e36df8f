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

// Package stubchan provides an in-process implementation of the
// non-secure stub service: the peer the skeleton daemon pulls foreign
// operations from and publishes results to.
//
// It implements the full get-op / copy-params / put-result protocol
// against a tschan.Endpoint invocation, which makes it both the test
// double for the skeleton packages and the backing for the daemon's
// loopback mode.
package stubchan

import (
	"sync"

	"sockskel.dev/sockskel/pkg/skel"
	"sockskel.dev/sockskel/pkg/tschan"
)

// Call is one foreign socket call submitted to the stub service.
type Call struct {
	// Op is the requested primitive.
	Op skel.OpCode

	// Params are the parameter words as the foreign caller issued
	// them. Buffer-typed words carry no meaningful value; the
	// skeleton re-points them at its own buffers.
	Params [skel.NumParams]uint32

	// Sizes are the declared sizes for buffer-typed parameters.
	Sizes [skel.NumParams]uint32

	// In holds the data served to the skeleton's copy-params request,
	// indexed by parameter.
	In [skel.NumParams][]byte

	// Result is the published numeric result. Valid after Done fires.
	Result int32

	// ParamsCopied records whether the skeleton performed a
	// copy-params invocation for this call. Valid after Done fires.
	ParamsCopied bool

	// Out holds the copy-out segments captured from the put-result
	// invocation, indexed by parameter. Valid after Done fires.
	Out map[int][]byte

	done chan struct{}
}

// Done is closed when the skeleton has published the call's result.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Service queues foreign calls and answers the skeleton's channel
// invocations. It implements tschan.Endpoint.
type Service struct {
	// wake raises the skeleton's operation-pending notification. It
	// is invoked outside the service lock.
	wake func()

	mu       sync.Mutex
	pending  []*Call
	inflight map[uint32]*Call
	nextTag  uint32
	busyLeft int

	readyOnce sync.Once
	ready     chan struct{}
}

var _ tschan.Endpoint = (*Service)(nil)

// New returns a Service that calls wake whenever submitted work is
// waiting to be pulled.
func New(wake func()) *Service {
	return &Service{
		wake:     wake,
		inflight: make(map[uint32]*Call),
		nextTag:  1,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the skeleton daemon has announced readiness.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Submit queues a foreign call and raises the pending notification.
// The same Call must not be submitted twice.
func (s *Service) Submit(c *Call) {
	c.done = make(chan struct{})
	c.Out = make(map[int][]byte)
	s.mu.Lock()
	s.pending = append(s.pending, c)
	s.mu.Unlock()
	s.wake()
}

// InjectBusy makes the next n invocations return tschan.Busy before
// normal processing resumes. Test hook for the link's retry path.
func (s *Service) InjectBusy(n int) {
	s.mu.Lock()
	s.busyLeft = n
	s.mu.Unlock()
}

// Invoke implements tschan.Endpoint.Invoke.
func (s *Service) Invoke(area []byte) tschan.Status {
	var rec skel.Record
	rec.UnmarshalBytes(area)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyLeft > 0 {
		s.busyLeft--
		return tschan.Busy
	}

	switch rec.Phase {
	case skel.PhaseReady:
		s.readyOnce.Do(func() { close(s.ready) })
		return tschan.Ok

	case skel.PhaseGetOp:
		if len(s.pending) == 0 {
			return tschan.NoHandler
		}
		c := s.pending[0]
		s.pending = s.pending[1:]
		tag := s.nextTag
		s.nextTag++
		s.inflight[tag] = c

		out := skel.Record{
			Op:     c.Op,
			Phase:  rec.Phase,
			Tag:    tag,
			Params: c.Params,
			Sizes:  c.Sizes,
		}
		out.MarshalBytes(area)
		return tschan.Ok

	case skel.PhaseCopyParams:
		c, ok := s.inflight[rec.Tag]
		if !ok {
			return tschan.NoHandler
		}
		c.ParamsCopied = true
		seg := area[rec.SizeBytes():]
		off := 0
		for i := 0; i < skel.NumParams; i++ {
			if rec.BufMask&(1<<uint(i)) == 0 {
				continue
			}
			n := int(rec.Sizes[i])
			if off+n > len(seg) {
				n = len(seg) - off
			}
			copy(seg[off:off+n], c.In[i])
			off += int(rec.Sizes[i])
		}
		return tschan.Ok

	case skel.PhasePutResult:
		c, ok := s.inflight[rec.Tag]
		if !ok {
			return tschan.NoHandler
		}
		delete(s.inflight, rec.Tag)
		c.Result = int32(rec.Result)
		seg := area[rec.SizeBytes():]
		off := 0
		for i := 0; i < skel.NumParams; i++ {
			if rec.BufMask&(1<<uint(i)) == 0 {
				continue
			}
			n := int(rec.Sizes[i])
			if off+n > len(seg) {
				n = len(seg) - off
			}
			c.Out[i] = append([]byte(nil), seg[off:off+n]...)
			off += int(rec.Sizes[i])
		}
		close(c.done)
		return tschan.Ok

	default:
		return tschan.NoHandler
	}
}
