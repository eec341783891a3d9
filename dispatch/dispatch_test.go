// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntrace/mcount/control"
	"github.com/fntrace/mcount/rstack"
	"github.com/fntrace/mcount/session"
	"github.com/fntrace/mcount/shmem"
	"github.com/fntrace/mcount/trigger"
)

func newTestSession(t *testing.T, triggers *trigger.Table) (*session.Session, *shmem.Ring) {
	dir := t.TempDir()
	cfg := &session.Config{PipeFD: -1, OutDir: dir, BufferSizeBytes: session.DefaultBufferSize, MaxStackDepth: 64, DefaultDepth: session.DefaultDepth}
	sess, err := session.New(cfg, triggers, trigger.FilterNone)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	pipe := control.Open(int(w.Fd()))
	sid := fmt.Sprintf("disp%012x", os.Getpid())[:16] + "." + t.Name()
	ring, err := shmem.NewRing(sid, 1, 4096, pipe)
	require.NoError(t, err)
	t.Cleanup(ring.Drain)
	return sess, ring
}

// TestThresholdFilterSuppressesShortCall models S1: a call under threshold,
// with no descendant forcing a flush, is never emitted.
func TestThresholdFilterSuppressesShortCall(t *testing.T) {
	sess, ring := newTestSession(t, trigger.NewTable(nil))
	enc := &rstack.Encoder{Ring: ring}
	td := rstack.NewThreadData(1, 64, 64)

	fs := &td.Filter
	fs.Depth = sess.DefaultDepth
	dec, tr, err := trigger.EntryCheck(td.Idx, sess.MaxStackDepth, fs, sess.Triggers, 0x1000,
		sess.FilterMode, sess.DefaultDepth, &sess.GlobalEnabled)
	require.NoError(t, err)
	require.Equal(t, trigger.FilterIn, dec)

	e := td.Push()
	e.ChildIP = 0x1000
	e.StartTime = 1_000_000
	EntryRecord(td, sess, e, tr, nil, enc, nil)

	e.EndTime = 1_000_500 // 500ns, under a 1ms threshold
	ExitRecord(td, e, nil, tr, enc, 1_000_000, nil)

	assert.Equal(t, uint16(0), e.Flags&rstack.FlagWritten)
	assert.Equal(t, uint32(0), ring.Losts())
}

// TestTraceTriggerForcesEmission models S2: a TRACE-flagged call is emitted
// regardless of threshold, and forces its ancestor's WRITTEN flag too.
func TestTraceTriggerForcesEmission(t *testing.T) {
	table := trigger.NewTable([]trigger.Trigger{{Addr: 0x300, Trace: true}})
	sess, ring := newTestSession(t, table)
	enc := &rstack.Encoder{Ring: ring}
	td := rstack.NewThreadData(1, 64, 64)
	fs := &td.Filter
	fs.Depth = sess.DefaultDepth

	push := func(addr uintptr, start uint64) (*rstack.Entry, *trigger.Trigger) {
		dec, tr, err := trigger.EntryCheck(td.Idx, sess.MaxStackDepth, fs, sess.Triggers, addr,
			sess.FilterMode, sess.DefaultDepth, &sess.GlobalEnabled)
		require.NoError(t, err)
		require.Equal(t, trigger.FilterIn, dec)
		e := td.Push()
		e.ChildIP = addr
		e.StartTime = start
		EntryRecord(td, sess, e, tr, nil, enc, nil)
		return e, tr
	}

	main, mainTr := push(0x100, 1)
	g, gTr := push(0x200, 2)
	h, hTr := push(0x300, 3)

	h.EndTime = 4
	ExitRecord(td, h, nil, hTr, enc, 1_000_000_000, nil)
	assert.True(t, h.Flags&rstack.FlagWritten != 0)
	assert.True(t, g.Flags&rstack.FlagWritten != 0, "ancestor forced to WRITTEN by descendant's TRACE flush")
	assert.True(t, main.Flags&rstack.FlagWritten != 0)

	g.EndTime = 5
	ExitRecord(td, g, nil, gTr, enc, 1_000_000_000, nil)
	main.EndTime = 6
	ExitRecord(td, main, nil, mainTr, enc, 1_000_000_000, nil)

	assert.Equal(t, uint32(0), ring.Losts())
}

// fakeHijacker models a trampoline install/restore: parentLoc is a key into
// slots, standing in for the memory word a real binding would rewrite.
type fakeHijacker struct {
	slots map[uintptr]uintptr
}

func (h *fakeHijacker) Hijack(parentLoc uintptr) uintptr {
	orig := h.slots[parentLoc]
	h.slots[parentLoc] = 0xdeadbeef
	return orig
}

func (h *fakeHijacker) Restore(parentLoc, original uintptr) {
	h.slots[parentLoc] = original
}

// TestRecoverRestoresThenRehijacksWholeStack models a RECOVER trigger nested
// two frames deep: entry must restore every live frame's slot to its real
// return address, leaving only the RECOVER frame itself hijacked, and exit
// must re-hijack every live frame again.
func TestRecoverRestoresThenRehijacksWholeStack(t *testing.T) {
	table := trigger.NewTable([]trigger.Trigger{{Addr: 0x300, Recover: true}})
	sess, ring := newTestSession(t, table)
	enc := &rstack.Encoder{Ring: ring}
	td := rstack.NewThreadData(1, 64, 64)
	fs := &td.Filter
	fs.Depth = sess.DefaultDepth

	hij := &fakeHijacker{slots: map[uintptr]uintptr{0x10: 0x1000, 0x20: 0x2000, 0x30: 0x3000}}

	push := func(addr, parentLoc uintptr, start uint64) (*rstack.Entry, *trigger.Trigger) {
		dec, tr, err := trigger.EntryCheck(td.Idx, sess.MaxStackDepth, fs, sess.Triggers, addr,
			sess.FilterMode, sess.DefaultDepth, &sess.GlobalEnabled)
		require.NoError(t, err)
		require.Equal(t, trigger.FilterIn, dec)
		e := td.Push()
		e.ChildIP = addr
		e.ParentLoc = parentLoc
		e.ParentIP = hij.Hijack(parentLoc)
		e.StartTime = start
		EntryRecord(td, sess, e, tr, nil, enc, hij)
		return e, tr
	}

	push(0x100, 0x10, 1)
	push(0x200, 0x20, 2)
	h, hTr := push(0x300, 0x30, 3)

	assert.True(t, h.Flags&rstack.FlagRecover != 0)
	assert.Equal(t, uintptr(0x1000), hij.slots[0x10], "outer frame restored to its real return address")
	assert.Equal(t, uintptr(0x2000), hij.slots[0x20], "outer frame restored to its real return address")
	assert.Equal(t, uintptr(0xdeadbeef), hij.slots[0x30], "recover frame itself stays hijacked")

	h.EndTime = 4
	ExitRecord(td, h, nil, hTr, enc, 0, hij)
	assert.Equal(t, uintptr(0xdeadbeef), hij.slots[0x10], "outer frame re-hijacked on exit")
	assert.Equal(t, uintptr(0xdeadbeef), hij.slots[0x20], "outer frame re-hijacked on exit")
	assert.Equal(t, uintptr(0xdeadbeef), hij.slots[0x30])
}
