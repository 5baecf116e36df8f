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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"sockskel.dev/sockskel/pkg/tschan"
)

const (
	// busyRetryDelay is the pause between invocation attempts when the
	// channel reports Busy.
	busyRetryDelay = 100 * time.Microsecond

	// busyMaxRetries bounds the Busy retries. The channel is strictly
	// serialized by the link mutex, so sustained Busy means the peer's
	// view of the protocol has diverged from ours; after this many
	// attempts it is treated as corruption and the process aborts.
	busyMaxRetries = 64
)

var errChannelBusy = errors.New("channel busy")

// serviceLink serializes all secure-channel invocations behind one
// mutex. The underlying channel is not reentrant: only one invocation
// may be in flight across the whole process, even though the socket
// calls themselves run in parallel on the workers.
type serviceLink struct {
	mu sync.Mutex

	// ep is the discovered stub-service endpoint. It is set once
	// before the dispatcher and workers start and is immutable
	// afterwards.
	ep tschan.Endpoint
}

// invoke performs one round trip for the slot's current phase. The
// record travels in both directions; buffer segments travel outward
// for PutResult and inward for CopyParams.
func (l *serviceLink) invoke(s *Slot) tschan.Status {
	area := make([]byte, s.SizeBytes()+s.segmentBytes())
	s.MarshalBytes(area)
	if s.Phase == PhasePutResult {
		s.putSegments(area[s.SizeBytes():])
	}

	l.mu.Lock()
	status := l.call(area)
	l.mu.Unlock()

	phase := s.Phase
	s.UnmarshalBytes(area)
	if phase == PhaseCopyParams {
		s.getSegments(area[s.SizeBytes():])
	}
	return status
}

// call invokes the endpoint, absorbing transient Busy responses with a
// bounded constant backoff. Exhausting the retries is an internal
// consistency failure and panics.
func (l *serviceLink) call(area []byte) tschan.Status {
	var status tschan.Status
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(busyRetryDelay), busyMaxRetries)
	err := backoff.Retry(func() error {
		status = l.ep.Invoke(area)
		if status == tschan.Busy {
			return errChannelBusy
		}
		return nil
	}, b)
	if err != nil {
		panic(fmt.Sprintf("skel: channel still busy after %d attempts", busyMaxRetries+1))
	}
	return status
}
