// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"github.com/fntrace/mcount/clock"
	"github.com/fntrace/mcount/dispatch"
	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/rstack"
	"github.com/fntrace/mcount/trigger"
)

// ParentLocFixup lets an architecture-specific binding translate the raw
// return-address slot the compiler instrumentation handed it (e.g. a
// TLS-relative slot on some ABIs) before it is hijacked or read back.
// Bindings that need no fixup can pass a nil func value.
type ParentLocFixup func(parentLoc uintptr) uintptr

// OnEntry implements the mcount-style instrumentation hook. It is called
// with the address of the slot holding the caller's return address, the
// address being entered, a register snapshot (nil when argument capture is
// not configured, since regs is architecture-specific and otherwise
// unused), and the ReturnHijacker that knows how to rewrite that slot.
//
// It returns -1 when the call is not tracked, in which case the caller must
// not install a return trampoline: no exit hook will fire for this call.
func (rt *Runtime) OnEntry(parentLoc, child uintptr, regs rstack.ValueSource, hij dispatch.ReturnHijacker, fixup ParentLocFixup) int32 {
	tid := clock.TID()
	ts := rt.threadFor(tid)

	if rt.shouldStop(ts) {
		return -1
	}
	ts.Guard.Store(true)
	defer ts.Guard.Store(false)

	ts.ensureInit(rt, tid)
	if ts.td == nil {
		return -1
	}

	dec, tr, err := trigger.EntryCheck(ts.td.Idx, rt.Session.MaxStackDepth, &ts.td.Filter,
		rt.Session.Triggers, child, rt.Session.FilterMode, rt.Session.DefaultDepth, &rt.Session.GlobalEnabled)
	if err != nil {
		log.Fatalf("lifecycle: tid %d: %v", tid, err)
	}
	if dec == trigger.FilterOut {
		return -1
	}

	if fixup != nil {
		parentLoc = fixup(parentLoc)
	}

	e := ts.td.Push()
	e.ParentLoc = parentLoc
	e.ChildIP = child
	e.Depth = ts.td.RecordIdx
	e.StartTime = uint64(clock.NowNS())

	if hij != nil {
		e.ParentIP = hij.Hijack(parentLoc)
	}

	dispatch.EntryRecord(ts.td, rt.Session, e, tr, regs, ts.enc, hij)
	return 0
}

// OnExit implements the mcount-style exit hook. It returns the original
// return address the caller should resume to. hij must be the same
// hijacker OnEntry was called with, since a RECOVER trigger re-hijacks the
// live rstack here.
//
// The entry is read via Top and popped only after ExitRecord runs, mirroring
// Exit below: ExitRecord's deferred emission re-derives the entry's slot from
// td.RStack[:td.Idx], so popping first would put it out of that range.
func (rt *Runtime) OnExit(retval rstack.ValueSource, hij dispatch.ReturnHijacker) uintptr {
	tid := clock.TID()
	ts := rt.threadFor(tid)

	ts.Guard.Store(true)
	defer ts.Guard.Store(false)

	e := ts.td.Top()
	e.EndTime = uint64(clock.NowNS())

	var tr *trigger.Trigger
	if e.Pargs != nil {
		tr = e.Pargs
	}
	dispatch.ExitRecord(ts.td, e, retval, tr, ts.enc, rt.Session.ThresholdNS, hij)

	ts.td.Idx--
	return e.ParentIP
}

// Enter implements the cyg_profile-style entry hook: (child, parent) pairs
// with no return-address hijack. Unlike OnEntry it always pushes an rstack
// entry, even when the call is filtered out, marking it NORECORD so the
// matching Exit call still pops exactly one frame.
func (rt *Runtime) Enter(child, parent uintptr) {
	tid := clock.TID()
	ts := rt.threadFor(tid)

	if rt.shouldStop(ts) {
		return
	}
	ts.Guard.Store(true)
	defer ts.Guard.Store(false)

	ts.ensureInit(rt, tid)
	if ts.td == nil {
		return
	}
	if ts.td.Idx >= rt.Session.MaxStackDepth {
		log.Fatalf("lifecycle: tid %d: %v", tid, trigger.ErrStackOverflow)
	}

	dec, tr, err := trigger.EntryCheck(ts.td.Idx, rt.Session.MaxStackDepth, &ts.td.Filter,
		rt.Session.Triggers, child, rt.Session.FilterMode, rt.Session.DefaultDepth, &rt.Session.GlobalEnabled)
	if err != nil {
		log.Fatalf("lifecycle: tid %d: %v", tid, err)
	}

	e := ts.td.Push()
	e.ParentIP = parent
	e.ChildIP = child
	e.Depth = ts.td.RecordIdx

	// entry_record below re-derives NORECORD from the filter counters on
	// its own; dec decides whether this call gets a start_time or is
	// pre-marked NORECORD, same as cygprof_entry's rstack->start_time/flags
	// pre-set.
	if dec == trigger.FilterIn {
		e.StartTime = uint64(clock.NowNS())
	} else {
		e.Flags |= rstack.FlagNorecord
	}
	dispatch.EntryRecord(ts.td, rt.Session, e, tr, nil, ts.enc, nil)
}

// Exit implements the cyg_profile-style exit hook. Like OnExit it does not
// pop before running exit_record: the top-of-stack entry is read in place,
// matching cygprof_exit, and popped only after exit_record returns.
func (rt *Runtime) Exit(child, parent uintptr) {
	tid := clock.TID()
	ts := rt.threadFor(tid)
	if ts.td == nil || ts.td.Idx == 0 {
		return
	}

	ts.Guard.Store(true)
	defer ts.Guard.Store(false)

	e := ts.td.Top()
	if e.Flags&rstack.FlagNorecord == 0 {
		e.EndTime = uint64(clock.NowNS())
	}

	var tr *trigger.Trigger
	if e.Pargs != nil {
		tr = e.Pargs
	}
	dispatch.ExitRecord(ts.td, e, nil, tr, ts.enc, rt.Session.ThresholdNS, nil)

	ts.td.Idx--
}
