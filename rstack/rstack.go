// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package rstack owns the per-thread return-stack: the bounded array of
// in-flight calls, the argument scratch buffer paired with it, and the
// encoder that turns finished calls into ENTRY/EXIT/LOST records in the
// current shmem buffer.
package rstack // import "github.com/fntrace/mcount/rstack"

import (
	"github.com/fntrace/mcount/trigger"
)

// Flag bits on an RStackEntry.
const (
	FlagWritten   uint16 = 1 << 0 // ENTRY already emitted to a buffer
	FlagNorecord  uint16 = 1 << 1 // filtered out; never emitted
	FlagFiltered  uint16 = 1 << 2 // matched an include-mode FILTER trigger
	FlagNotrace   uint16 = 1 << 3 // matched an exclude-mode FILTER trigger
	FlagArgument  uint16 = 1 << 4 // argument payload captured at entry
	FlagRetval    uint16 = 1 << 5 // retval payload to capture at exit
	FlagTrace     uint16 = 1 << 6 // force-record this call and its subtree
	FlagDisabled  uint16 = 1 << 7 // recorded while globally disabled
	FlagRecover   uint16 = 1 << 8 // original return address was restored
)

// InvalidDynIdx marks an RStackEntry with no PLT index.
const InvalidDynIdx = -1

// Entry is one in-flight call on a thread's return stack. It is part of a
// fixed-capacity array owned by ThreadData; no entry is ever allocated on
// its own.
type Entry struct {
	Depth     int // record_idx at entry
	ParentLoc uintptr
	ParentIP  uintptr
	ChildIP   uintptr
	StartTime uint64
	EndTime   uint64
	Flags     uint16

	FilterDepthSaved int
	Pargs            *trigger.Trigger
	DynIdx           int
}

// Recordable reports whether the call is eligible for emission: it was
// never filtered out and wasn't running while tracing was globally off.
func (e *Entry) Recordable() bool {
	return e.Flags&FlagNorecord == 0 && e.Flags&FlagDisabled == 0
}

// ThreadData is the per-thread state a dispatcher looks up by OS tid. The
// rstack and argbuf arrays are pre-sized to MaxStackDepth at thread init and
// never grow; argbuf[i] always pairs with rstack[i].
type ThreadData struct {
	TID int32

	RecursionGuard bool

	Idx       int // current stack depth
	RecordIdx int // logical recorded depth

	RStack []Entry
	ArgBuf [][]byte

	Filter       trigger.FilterState
	EnableCached bool
}

// NewThreadData allocates rstack and argbuf sized to maxStackDepth. Called
// once per thread, from inside the entry hook while the thread's recursion
// guard is set, so a traced allocator recursing into the hook observes a
// no-op.
func NewThreadData(tid int32, maxStackDepth, argbufSize int) *ThreadData {
	td := &ThreadData{
		TID:    tid,
		RStack: make([]Entry, maxStackDepth),
		ArgBuf: make([][]byte, maxStackDepth),
	}
	for i := range td.ArgBuf {
		td.ArgBuf[i] = make([]byte, argbufSize)
	}
	return td
}

// Top returns the most recently pushed entry, or nil if the stack is empty.
func (td *ThreadData) Top() *Entry {
	if td.Idx == 0 {
		return nil
	}
	return &td.RStack[td.Idx-1]
}

// Push allocates the next rstack slot, clears its flags/end_time, and
// returns it for the caller to populate.
func (td *ThreadData) Push() *Entry {
	e := &td.RStack[td.Idx]
	*e = Entry{DynIdx: InvalidDynIdx}
	td.Idx++
	return e
}

// Pop decrements the stack depth, returning the entry that was on top.
func (td *ThreadData) Pop() *Entry {
	td.Idx--
	return &td.RStack[td.Idx]
}
