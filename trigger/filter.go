// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package trigger

import (
	"fmt"
	"sync/atomic"
)

// FilterState is the per-thread filter bookkeeping that nests with the call
// stack: how much depth budget remains, how many ancestors explicitly
// included or excluded this subtree, and the depth to restore on exit.
type FilterState struct {
	Depth      int
	InCount    int
	OutCount   int
	SavedDepth int
}

// Decision is the result of evaluating entry policy for one call.
type Decision int

const (
	// FilterIn means the call is tracked (pushed onto the return stack);
	// it may still end up NORECORD/DISABLED downstream.
	FilterIn Decision = iota
	// FilterOut means the call should not be tracked at all: no rstack
	// entry is pushed and (in the mcount ABI) no return address is hijacked.
	FilterOut
)

// ErrStackOverflow is returned when idx has reached maxStackDepth; the
// spec treats this as fatal.
var ErrStackOverflow = fmt.Errorf("trigger: return-stack depth exceeded")

// EntryCheck implements the spec's entry_check: given the current stack
// depth, the per-thread filter state, the trigger table, and the address
// being entered, it decides whether the call is tracked and mutates fs and
// globalEnabled as a byproduct of TRACE_ON/OFF and FILTER/DEPTH triggers.
//
// defaultDepth is the session's configured default depth, restored whenever
// an include/exclude FILTER trigger matches. globalEnabled is the
// process-wide trace on/off flag; TRACE_ON/OFF triggers mutate it in place.
func EntryCheck(
	idx, maxStackDepth int,
	fs *FilterState,
	table *Table,
	childAddr uintptr,
	mode FilterMode,
	defaultDepth int,
	globalEnabled *atomic.Bool,
) (Decision, *Trigger, error) {
	if idx >= maxStackDepth {
		return FilterOut, nil, ErrStackOverflow
	}

	fs.SavedDepth = fs.Depth

	if fs.OutCount > 0 {
		return FilterOut, nil, nil
	}

	tr, found := table.Lookup(childAddr)

	if found && tr.HasFilter {
		switch tr.FilterMode {
		case FilterInclude:
			fs.InCount++
		case FilterExclude:
			fs.OutCount++
		}
		fs.Depth = defaultDepth
	} else if mode == FilterInclude && fs.InCount == 0 {
		return FilterOut, tr, nil
	}

	if found {
		if tr.HasDepth {
			fs.Depth = tr.Depth
		}
		if tr.TraceOn {
			globalEnabled.Store(true)
		}
		if tr.TraceOff {
			globalEnabled.Store(false)
		}
	}

	if !globalEnabled.Load() {
		// Tracked so the subtree still nests correctly, but will be
		// marked DISABLED by the caller.
		return FilterIn, tr, nil
	}

	if fs.Depth <= 0 {
		return FilterOut, tr, nil
	}

	fs.Depth--
	return FilterIn, tr, nil
}

// ExitRestore implements the filter-state half of exit_record: restoring
// the depth budget saved at entry and undoing the in/out nesting counters
// that a FILTER trigger bumped.
func ExitRestore(fs *FilterState, savedDepth int, filtered, notrace bool) {
	fs.Depth = savedDepth
	if filtered {
		fs.InCount--
	}
	if notrace {
		fs.OutCount--
	}
}
