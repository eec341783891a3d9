// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rstack

import (
	"github.com/fntrace/mcount/shmem"
	"github.com/fntrace/mcount/wire"
)

// Encoder turns finished or in-flight RStackEntry data into ENTRY/EXIT/LOST
// records on a thread's shmem ring.
type Encoder struct {
	Ring *shmem.Ring
}

// skipFlags marks an entry that is never emitted.
const skipFlags = FlagNorecord | FlagDisabled

// ShouldFlush implements the exit-time emission gate: exit_record calls
// RecordTraceData only when a call ran for at least the threshold, or a descendant
// already forced its WRITTEN flag, or it carries TRACE.
func ShouldFlush(e *Entry, thresholdNS uint64) bool {
	return e.EndTime-e.StartTime >= thresholdNS || e.Flags&(FlagWritten|FlagTrace) != 0
}

// RecordTraceData implements record_trace_data: given top (the entry at an
// EXIT, or any in-flight entry at a forced flush), it walks backward from
// top while ancestors are not yet WRITTEN, then walks forward emitting an
// ENTRY record for every such ancestor that isn't NORECORD/DISABLED, and
// finally, if top.EndTime != 0, emits top's own EXIT record. A write
// failure partway through the forward walk aborts the remaining ENTRYs and
// the EXIT; Ring.Append has already accounted the failing write under
// Losts, and the remaining skipped records are accounted here.
func (enc *Encoder) RecordTraceData(td *ThreadData, top *Entry) {
	topIdx := entryIndex(td, top)
	if topIdx < 0 {
		return
	}

	start := topIdx
	if top.Flags&FlagWritten == 0 {
		for start > 0 && td.RStack[start-1].Flags&FlagWritten == 0 {
			start--
		}
	} else {
		start = topIdx
	}

	remaining := 0
	for i := start; i <= topIdx; i++ {
		if td.RStack[i].Flags&skipFlags == 0 && td.RStack[i].Flags&FlagWritten == 0 {
			remaining++
		}
	}
	if top.EndTime != 0 {
		remaining++ // for the exit
	}

	for i := start; i < topIdx; i++ {
		e := &td.RStack[i]
		if e.Flags&skipFlags != 0 || e.Flags&FlagWritten != 0 {
			continue
		}
		if !enc.emitEntry(td, i, e) {
			enc.Ring.AddLosts(remaining - 1)
			return
		}
		e.Flags |= FlagWritten
		remaining--
	}

	if top.Flags&skipFlags == 0 && top.Flags&FlagWritten == 0 {
		if !enc.emitEntry(td, topIdx, top) {
			enc.Ring.AddLosts(remaining - 1)
			return
		}
		top.Flags |= FlagWritten
		remaining--
	}

	if top.EndTime != 0 {
		enc.emitExit(td, topIdx, top)
	}
}

func entryIndex(td *ThreadData, e *Entry) int {
	for i := range td.RStack[:td.Idx] {
		if &td.RStack[i] == e {
			return i
		}
	}
	return -1
}

func (enc *Encoder) emitEntry(td *ThreadData, idx int, e *Entry) bool {
	var payload []byte
	more := false
	if e.Flags&FlagArgument != 0 {
		payload = PayloadBytes(td.ArgBuf[idx])
		more = true
	}
	return enc.append(wire.Record{
		Time:  e.StartTime,
		Type:  wire.RecordEntry,
		More:  more,
		Depth: uint16(e.Depth),
		Addr:  uint64(e.ChildIP),
	}, payload)
}

func (enc *Encoder) emitExit(td *ThreadData, idx int, e *Entry) bool {
	var payload []byte
	more := false
	if e.Flags&FlagRetval != 0 {
		payload = PayloadBytes(td.ArgBuf[idx])
		more = true
	}
	return enc.append(wire.Record{
		Time:  e.EndTime,
		Type:  wire.RecordExit,
		More:  more,
		Depth: uint16(e.Depth),
		Addr:  uint64(e.ChildIP),
	}, payload)
}

// append encodes rec and an optional already-packed payload, padding each to
// an 8-byte boundary, and hands the result to the ring.
func (enc *Encoder) append(rec wire.Record, payload []byte) bool {
	recLen := wire.PadLen(wire.RecordSize)
	total := recLen
	if rec.More {
		total += wire.PadLen(len(payload))
	}
	buf := make([]byte, total)
	rec.Encode(buf, 0)
	if rec.More {
		copy(buf[recLen:], payload)
	}
	return enc.Ring.Append(buf)
}
