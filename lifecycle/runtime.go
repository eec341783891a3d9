// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle owns process init/fini, per-thread init/fini, fork
// handling, and the instrumentation ABI entry points that glue dispatch,
// rstack, and shmem together into a running Runtime.
package lifecycle // import "github.com/fntrace/mcount/lifecycle"

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/rstack"
	"github.com/fntrace/mcount/session"
	"github.com/fntrace/mcount/shmem"
	"github.com/fntrace/mcount/trigger"
)

// threadState is the per-thread runtime state looked up by OS tid. It
// stands in for the native TLS slot a real mcount implementation keeps:
// Go has no equivalent primitive, so threads are indexed in a process-wide
// map instead. The Guard field is checked and set before ThreadData or the
// shmem ring are allocated, matching the spec's invariant that allocation
// during thread init runs under the guard.
type threadState struct {
	Guard atomic.Bool
	once  sync.Once

	td   *rstack.ThreadData
	ring *shmem.Ring
	enc  *rstack.Encoder
}

// Runtime is the process-wide tracer: one Session plus the registry of
// live per-thread state. There is exactly one Runtime per process.
type Runtime struct {
	Session  *Session
	threads  sync.Map // int32 tid -> *threadState
	finished atomic.Bool

	argbufSize int
}

// Session re-exports session.Session so callers of this package do not
// need to also import the session package for the common case.
type Session = session.Session

// New builds a Runtime: loads configuration from the environment and builds
// the Session (opens the control pipe, sends SESSION, snapshots
// /proc/self/maps). It registers no fork handling: the caller invokes
// PrepareFork and AfterForkChild around its own fork, since Go exposes fork
// only through os/exec or raw syscall.ForkExec, not a reusable
// pthread_atfork-style hook.
func New(triggers *trigger.Table, filterMode trigger.FilterMode) (*Runtime, error) {
	cfg := session.LoadConfig()
	sess, err := session.New(cfg, triggers, filterMode)
	if err != nil {
		return nil, err
	}
	return &Runtime{Session: sess, argbufSize: session.ArgbufSize}, nil
}

// shouldStop mirrors mcount_should_stop: the process is finished, or this
// thread is already inside a hook.
func (rt *Runtime) shouldStop(ts *threadState) bool {
	return rt.finished.Load() || ts.Guard.Load()
}

// threadFor looks up or lazily creates the threadState for tid. The
// threadState wrapper itself is allocated outside the guard (there is no
// guard to hold until the wrapper exists); everything it references
// (ThreadData, the shmem ring) is allocated inside ensureInit, which runs
// only while Guard is held.
func (rt *Runtime) threadFor(tid int32) *threadState {
	if v, ok := rt.threads.Load(tid); ok {
		return v.(*threadState)
	}
	v, _ := rt.threads.LoadOrStore(tid, &threadState{})
	return v.(*threadState)
}

// ensureInit performs per-thread init (idempotent, via sync.Once): it
// allocates the bounded rstack/argbuf arrays, prepares the shmem ring, and
// announces the thread with a TID control message.
func (ts *threadState) ensureInit(rt *Runtime, tid int32) {
	ts.once.Do(func() {
		ts.td = rstack.NewThreadData(tid, rt.Session.MaxStackDepth, rt.argbufSize)
		ring, err := shmem.NewRing(rt.Session.ID, tid, rt.Session.BufferSizeBytes, rt.Session.Pipe)
		if err != nil {
			log.Errorf("lifecycle: failed to prepare shmem ring for tid %d: %v", tid, err)
		}
		ts.ring = ring
		ts.enc = &rstack.Encoder{Ring: ring}
		ts.td.Filter.Depth = rt.Session.DefaultDepth
		rt.Session.SendTID(tid)
	})
}

// Drain flushes every live thread's ring concurrently and is called at
// process fini. Threads are independent (each owns its own ring), so there
// is no coordination needed beyond waiting for all of them to finish.
func (rt *Runtime) Drain(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	rt.threads.Range(func(_, v any) bool {
		ts := v.(*threadState)
		g.Go(func() error {
			if ts.ring != nil {
				ts.ring.Drain()
			}
			return nil
		})
		return true
	})
	return g.Wait()
}

// Fini implements process fini: drains all threads, closes the control
// pipe, and marks the runtime finished so any hook still in flight becomes
// a no-op.
func (rt *Runtime) Fini(ctx context.Context) error {
	if rt.finished.Swap(true) {
		return nil // already finished
	}
	err := rt.Drain(ctx)
	rt.Session.Close()
	return err
}
