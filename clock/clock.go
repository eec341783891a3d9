// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the monotonic timestamps and per-thread/per-process
// identity primitives that the hot path relies on. Every call here must stay
// allocation-free: it runs on the instrumented program's own stack between a
// function's entry and its return.
package clock // import "github.com/fntrace/mcount/clock"

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	_ "unsafe" // required to use //go:linkname for runtime.nanotime

	"golang.org/x/sys/unix"
)

// NowNS returns the current monotonic time in nanoseconds. It relies on
// runtime.nanotime, the same vDSO-backed clock the Go scheduler uses
// internally, so repeated calls on the hot path do not pay for a syscall.
//
//go:noescape
//go:linkname NowNS runtime.nanotime
func NowNS() int64

// TID returns the OS thread id of the calling goroutine. The caller must be
// locked to its OS thread (runtime.LockOSThread) for the value to remain
// stable across the lifetime of a traced call; neither TID nor the lifecycle
// hooks that call it lock the thread themselves.
func TID() int32 {
	return int32(unix.Gettid())
}

var (
	sessionOnce sync.Once
	sessionHex  string
)

// SessionID lazily reads 8 random bytes from the OS entropy source on first
// call and formats them as 16 hex digits. The id is stable for the life of
// the process: later callers observe the same string.
func SessionID() string {
	sessionOnce.Do(func() {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// Entropy read failure is fatal at init: a session cannot be
			// safely identified without it.
			panic("mcount: failed to read entropy for session id: " + err.Error())
		}
		sessionHex = hex.EncodeToString(buf[:])
	})
	return sessionHex
}

// ResetSessionIDForTest clears the memoized session id so tests can observe
// a fresh one. Not for use outside tests.
func ResetSessionIDForTest() {
	sessionOnce = sync.Once{}
	sessionHex = ""
}
