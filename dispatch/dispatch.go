// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the hook functions instrumentation calls on
// every traced function entry and return: it orchestrates filter
// evaluation, return-stack push/pop, and deferred emission. It is the glue
// between trigger (policy), rstack (state + encoding), and a Session
// (process-wide config).
package dispatch // import "github.com/fntrace/mcount/dispatch"

import (
	"github.com/fntrace/mcount/rstack"
	"github.com/fntrace/mcount/session"
	"github.com/fntrace/mcount/trigger"
)

// ReturnHijacker abstracts the architecture-specific return-address
// rewrite that the mcount-style ABI depends on. A real binding installs a
// trampoline address at parentLoc and restores trampoline below it; this
// package never dereferences raw addresses itself, since Go offers no safe
// primitive to do so across an arbitrary foreign call frame.
type ReturnHijacker interface {
	Hijack(parentLoc uintptr) (original uintptr)
	Restore(parentLoc, original uintptr)
}

// EntryRecord implements mcount_entry_filter_record: given the trigger
// matched (if any) at entry_check time, it finalizes the pushed Entry's
// flags, updates record bookkeeping, and captures argument data. It runs
// after the Entry has already been pushed and (for the mcount ABI) its
// return address hijacked. The mcount ABI calls it only when EntryCheck
// returned FilterIn; the cyg-profile ABI calls it for every pushed Entry,
// with NORECORD already set when EntryCheck returned FilterOut.
func EntryRecord(
	td *rstack.ThreadData,
	sess *session.Session,
	e *rstack.Entry,
	tr *trigger.Trigger,
	argSrc rstack.ValueSource,
	enc *rstack.Encoder,
	hij ReturnHijacker,
) {
	if td.Filter.OutCount > 0 || (sess.FilterMode == trigger.FilterInclude && td.Filter.InCount == 0) {
		e.Flags |= rstack.FlagNorecord
	}
	e.FilterDepthSaved = td.Filter.SavedDepth

	if tr != nil {
		if tr.HasFilter {
			if tr.FilterMode == trigger.FilterInclude {
				e.Flags |= rstack.FlagFiltered
			} else {
				e.Flags |= rstack.FlagNotrace
			}
		}
		if len(tr.Retval) > 0 {
			e.Pargs = tr
			e.Flags |= rstack.FlagRetval
		}
		if tr.Trace {
			e.Flags |= rstack.FlagTrace
		}
	}

	if e.Flags&rstack.FlagNorecord != 0 {
		return
	}

	td.RecordIdx++

	enabled := sess.GlobalEnabled.Load()
	if !enabled {
		e.Flags |= rstack.FlagDisabled
	} else if tr != nil && len(tr.Argument) > 0 && argSrc != nil {
		if idx := entryIndex(td, e); idx >= 0 {
			if size, ok := rstack.PackArgs(td.ArgBuf[idx], tr.Argument, argSrc); ok && size > 0 {
				e.Flags |= rstack.FlagArgument
			}
		}
	}

	if td.EnableCached != enabled {
		if !enabled {
			enc.RecordTraceData(td, e)
		}
		td.EnableCached = enabled
	}

	if tr != nil && tr.Recover {
		e.Flags |= rstack.FlagRecover
		if hij != nil {
			for i := td.Idx - 1; i >= 0; i-- {
				fe := &td.RStack[i]
				hij.Restore(fe.ParentLoc, fe.ParentIP)
			}
			hij.Hijack(e.ParentLoc)
		}
	}
}

// ExitRecord implements mcount_exit_filter_record: restores the filter
// depth budget, undoes FILTERED/NOTRACE nesting counters, decrements
// record_idx, and applies the emission gate before handing off to the
// encoder.
func ExitRecord(
	td *rstack.ThreadData,
	e *rstack.Entry,
	retvalSrc rstack.ValueSource,
	tr *trigger.Trigger,
	enc *rstack.Encoder,
	thresholdNS uint64,
	hij ReturnHijacker,
) {
	trigger.ExitRestore(&td.Filter, e.FilterDepthSaved, e.Flags&rstack.FlagFiltered != 0, e.Flags&rstack.FlagNotrace != 0)

	if e.Flags&rstack.FlagRecover != 0 && hij != nil {
		for i := td.Idx - 1; i >= 0; i-- {
			fe := &td.RStack[i]
			hij.Hijack(fe.ParentLoc)
		}
	}

	if e.Flags&rstack.FlagNorecord != 0 {
		return
	}

	if td.RecordIdx > 0 {
		td.RecordIdx--
	}

	if e.Flags&rstack.FlagRetval != 0 && retvalSrc != nil && tr != nil {
		if idx := entryIndex(td, e); idx >= 0 {
			if size, ok := rstack.PackArgs(td.ArgBuf[idx], tr.Retval, retvalSrc); !ok || size == 0 {
				e.Flags &^= rstack.FlagRetval
			}
		} else {
			e.Flags &^= rstack.FlagRetval
		}
	}

	if rstack.ShouldFlush(e, thresholdNS) {
		enc.RecordTraceData(td, e)
	}
}

// entryIndex finds e's slot in td.RStack's live prefix, returning -1 if e
// has already been popped past td.Idx.
func entryIndex(td *rstack.ThreadData, e *rstack.Entry) int {
	for i := range td.RStack[:td.Idx] {
		if &td.RStack[i] == e {
			return i
		}
	}
	return -1
}
