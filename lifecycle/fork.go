// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "os"

// PrepareFork announces an imminent fork with FORK_START. Call it from the
// parent immediately before forking. Go has no pthread_atfork: a raw fork
// (via syscall.ForkExec or similar) must call this explicitly, since there
// is no OS-level hook to run it automatically.
func (rt *Runtime) PrepareFork() {
	rt.Session.SendForkStart()
}

// AfterForkChild finishes fork handling from the child side of a fork that
// shares the parent's address space (the "fork, do not exec" case; after an
// exec all of this state is re-created fresh by init anyway). It discards
// every thread's inherited ThreadData and ring *without* closing or
// unmapping the parent's shmem segments, since those pages are also mapped
// in the parent and remain its responsibility; the child only drops its own
// references so a later hook call re-initializes cleanly with a fresh ring.
// parentPID identifies the parent in the FORK_END announcement.
func (rt *Runtime) AfterForkChild(parentPID int) {
	rt.threads.Range(func(k, _ any) bool {
		rt.threads.Delete(k)
		return true
	})
	rt.finished.Store(false)

	childPID := os.Getpid()
	rt.Session.PID = childPID
	rt.Session.SendForkEnd(parentPID, childPID)
}
