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

// Package skel implements the secure-world socket skeleton daemon.
//
// Untrusted client code on the non-secure side issues ordinary socket
// calls; its stub library parks them with the stub service and raises
// a notification. The skeleton daemon pulls each pending call over
// the secure channel into a reusable request slot, hands the slot to
// a worker, and the worker's operation handler re-executes the call
// against the real TCP/IP stack, copying parameter buffers in and
// results back out across the trust boundary.
//
// The slot pool's capacity equals the worker count, so at most that
// many foreign calls are in flight at once; this is the only
// back-pressure and multiplexing policy. A call that blocks in the
// stack (recv on a quiet socket, select with a long timeout) occupies
// its worker for the full duration.
package skel

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"sockskel.dev/sockskel/pkg/bufalloc"
	"sockskel.dev/sockskel/pkg/notify"
	"sockskel.dev/sockskel/pkg/tschan"
)

// OpPendingEvent is the notification flag the stub transport raises
// when one or more foreign operations are waiting to be pulled.
const OpPendingEvent notify.Set = 1 << 0

// DefaultWorkers is the worker (and slot) count used when the
// configuration does not specify one.
const DefaultWorkers = 4

// Config configures a Daemon.
type Config struct {
	// ServiceName is the name under which the stub-service endpoint
	// is discovered.
	ServiceName string

	// Workers is the number of worker goroutines. The slot pool has
	// the same capacity, bounding concurrently executing foreign
	// calls. Defaults to DefaultWorkers.
	Workers int

	// BufferBudget caps the total bytes of live marshaling buffers.
	// 0 means unlimited.
	BufferBudget uint64
}

// Daemon re-executes foreign socket calls against a Stack. Construct
// with New, then call Run.
type Daemon struct {
	cfg      Config
	stack    Stack
	registry *tschan.Registry
	waiter   *notify.Waiter

	pool  *slotPool
	link  *serviceLink
	alloc *bufalloc.Allocator
}

// New creates a Daemon. The waiter receives OpPendingEvent
// notifications from the stub transport; the registry is where that
// transport's endpoint appears under cfg.ServiceName.
func New(cfg Config, stack Stack, registry *tschan.Registry, waiter *notify.Waiter) *Daemon {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Daemon{
		cfg:      cfg,
		stack:    stack,
		registry: registry,
		waiter:   waiter,
		pool:     newSlotPool(cfg.Workers),
		link:     &serviceLink{},
		alloc:    bufalloc.New(cfg.BufferBudget),
	}
}

// Run discovers the stub-service endpoint, announces readiness, and
// serves foreign calls until ctx is canceled. The endpoint reference
// is resolved and stored before the dispatcher or any worker starts,
// so none of them ever observes a missing endpoint.
func (d *Daemon) Run(ctx context.Context) error {
	ep, err := d.registry.Discover(ctx, d.cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("discovering service %q: %w", d.cfg.ServiceName, err)
	}
	d.link.ep = ep

	// Tell the stub service we are ready to pull operations.
	s := d.pool.acquireFree(ctx.Done())
	if s == nil {
		return ctx.Err()
	}
	s.Phase = PhaseReady
	d.link.invoke(s)
	d.pool.release(s)
	logrus.WithField("service", d.cfg.ServiceName).Info("skeleton daemon ready")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.dispatch(ctx)
	})
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.work(ctx, worker)
		})
	}
	return g.Wait()
}

// dispatch is the single producer: it waits for an operation-pending
// notification, then drains every currently pending foreign call from
// the channel into the work queue. Several operations may be pending
// per notification; the drain loop runs until the stub service
// reports no more work.
func (d *Daemon) dispatch(ctx context.Context) error {
	done := ctx.Done()
	for {
		if _, ok := d.waiter.Wait(done); !ok {
			return ctx.Err()
		}
		for {
			s := d.pool.acquireFree(done)
			if s == nil {
				return ctx.Err()
			}
			s.Phase = PhaseGetOp
			if status := d.link.invoke(s); status == tschan.NoHandler {
				d.pool.release(s)
				break
			}
			logrus.WithFields(logrus.Fields{
				"op":  s.Op,
				"tag": s.Tag,
			}).Debug("pulled foreign operation")
			d.pool.enqueueWork(s)
		}
	}
}

// work executes foreign calls until ctx is canceled. The handler's
// publish step recycles the slot, so the loop only dequeues.
func (d *Daemon) work(ctx context.Context, worker int) error {
	done := ctx.Done()
	wlog := logrus.WithField("worker", worker)
	for {
		s := d.pool.dequeueWork(done)
		if s == nil {
			return ctx.Err()
		}
		if s.Op >= numOps || opHandlers[s.Op] == nil {
			wlog.WithField("op", uint32(s.Op)).Warn("unsupported operation")
			d.publish(s, -int32(unix.EOPNOTSUPP))
			continue
		}
		wlog.WithFields(logrus.Fields{
			"op":  s.Op,
			"tag": s.Tag,
		}).Debug("executing foreign operation")
		opHandlers[s.Op](d, s)
	}
}

// copyParamsIn pulls the contents of the slot's attached "in" buffers
// from the non-secure side. It always completes before the handler
// invokes the stack primitive.
func (d *Daemon) copyParamsIn(s *Slot) {
	s.Phase = PhaseCopyParams
	d.link.invoke(s)
}

// publish writes the numeric result into the slot, delivers it and
// the attached "out" buffers to the non-secure side, and returns the
// slot to the free pool. After publish the caller no longer owns the
// slot.
func (d *Daemon) publish(s *Slot, res int32) {
	s.Result = uint32(res)
	s.Phase = PhasePutResult
	if status := d.link.invoke(s); status != tschan.Ok {
		logrus.WithFields(logrus.Fields{
			"op":     s.Op,
			"tag":    s.Tag,
			"status": status,
		}).Warn("publishing result was not acknowledged")
	}
	d.pool.release(s)
}
