// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"github.com/fntrace/mcount/internal/xsync"
	"github.com/fntrace/mcount/trigger"
)

// processRuntime guards the one-time construction of the process-wide
// Runtime against the race the spec describes: the first thread to call an
// instrumentation hook runs init, every other thread concurrently hitting
// its own first hook call must simply get the result instead of racing to
// build a second Runtime.
var processRuntime xsync.OnceValue[*Runtime]

// GetRuntime lazily builds the process-wide Runtime exactly once no matter
// how many OS threads race into it from their first hook call. A generated
// binding's hook shims should call this instead of holding their own
// package-level *Runtime, mirroring __monstartup's mcount_setup_done guard.
func GetRuntime(triggers *trigger.Table, filterMode trigger.FilterMode) (*Runtime, error) {
	return processRuntime.GetOrInit(func() (*Runtime, error) {
		return New(triggers, filterMode)
	})
}

// ResetRuntimeForTest clears the memoized Runtime so tests can observe a
// fresh one. Not for use outside tests.
func ResetRuntimeForTest() {
	processRuntime = xsync.OnceValue[*Runtime]{}
}
