// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package shmem

import (
	"github.com/fntrace/mcount/control"
	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/wire"
)

// droppingIndex is the sentinel value for Ring.curr meaning "no writable
// buffer is currently available; events are being dropped".
const droppingIndex = -1

// trailingWrittenShrinkThreshold is the number of trailing WRITTEN segments
// that triggers unmapping the last one, per the spec's buffer-shrink policy.
const trailingWrittenShrinkThreshold = 3

// Ring is the per-thread sequence of shared-memory segments used to stream
// event records to the recorder. It is owned exclusively by the thread that
// created it: no locking is needed on the hot path.
type Ring struct {
	sid        string
	tid        int32
	bufferSize int
	pipe       *control.Pipe

	buffers []*Buffer
	curr    int // index into buffers, or droppingIndex
	seqnum  uint64
	losts   uint32
	maxBuf  int
}

// NewRing pre-allocates two segments (indices 0 and 1), marks segment 0
// RECORDING, and announces it to the recorder over the control pipe.
func NewRing(sid string, tid int32, bufferSize int, pipe *control.Pipe) (*Ring, error) {
	r := &Ring{sid: sid, tid: tid, bufferSize: bufferSize, pipe: pipe, curr: droppingIndex}

	for idx := 0; idx < 2; idx++ {
		buf, err := Create(SegmentName(sid, tid, idx), bufferSize)
		if err != nil {
			// Allocation failure during prepare leaves the ring in the
			// dropping state rather than failing thread init outright.
			log.Warnf("shmem: failed to pre-allocate segment %d for tid %d: %v", idx, tid, err)
			r.losts++
			return r, nil
		}
		r.buffers = append(r.buffers, buf)
	}

	r.buffers[0].MarkRecording()
	r.curr = 0
	r.maxBuf = len(r.buffers)
	r.pipe.Send(wire.ControlRecStart, wire.EncodeSegmentName(r.buffers[0].Name))
	return r, nil
}

// Losts returns the current dropped-event count since the last successful
// rotation report.
func (r *Ring) Losts() uint32 {
	return r.losts
}

// AddLosts accounts n additional dropped records, e.g. records an aborted
// encoder walk skipped after an earlier write in the same walk already
// failed. Negative n is ignored.
func (r *Ring) AddLosts(n int) {
	if n > 0 {
		r.losts += uint32(n)
	}
}

// current returns the active writable buffer, or nil if none is available.
func (r *Ring) current() *Buffer {
	if r.curr == droppingIndex {
		return nil
	}
	return r.buffers[r.curr]
}

// Append writes one fixed record plus an optional payload to the current
// buffer, rotating first if necessary. If no writable buffer can be
// produced, the record is dropped, accounted under losts, and ok is false.
func (r *Ring) Append(total []byte) (ok bool) {
	buf := r.current()
	if buf == nil || buf.Remaining() < len(total) {
		r.rotate()
		buf = r.current()
		if buf == nil || buf.Remaining() < len(total) {
			r.losts++
			return false
		}
	}
	buf.Append(total)
	return true
}

// rotate closes out the current segment, reuses the lowest-index idle
// segment if one exists, otherwise extends the ring, applies the shrink
// policy, and announces the new segment. If a prior rotation left losts
// outstanding, a LOST record is written at the head of the new buffer and a
// LOST control message is sent.
func (r *Ring) rotate() {
	if cur := r.current(); cur != nil {
		r.pipe.Send(wire.ControlRecEnd, wire.EncodeSegmentName(cur.Name))
		cur.MarkWritten()
	}

	reused := -1
	for i, b := range r.buffers {
		if b.Flag() != FlagRecording {
			reused = i
			break
		}
	}

	if reused >= 0 {
		r.buffers[reused].Reuse()
		r.seqnum++
		r.curr = reused
	} else {
		idx := len(r.buffers)
		buf, err := Create(SegmentName(r.sid, r.tid, idx), r.bufferSize)
		if err != nil {
			log.Warnf("shmem: failed to extend ring for tid %d: %v", r.tid, err)
			r.curr = droppingIndex
			r.losts++
			return
		}
		buf.MarkRecording()
		r.buffers = append(r.buffers, buf)
		r.seqnum++
		r.curr = idx
		if len(r.buffers) > r.maxBuf {
			r.maxBuf = len(r.buffers)
		}
	}

	r.shrink()

	newBuf := r.buffers[r.curr]
	r.pipe.Send(wire.ControlRecStart, wire.EncodeSegmentName(newBuf.Name))

	if r.losts > 0 {
		lost := wire.Record{Time: 0, Type: wire.RecordLost, Addr: uint64(r.losts)}
		rec := make([]byte, wire.PadLen(wire.RecordSize))
		lost.Encode(rec, 0)
		newBuf.Append(rec)
		r.pipe.Send(wire.ControlLost, wire.EncodeLost(r.losts))
		r.losts = 0
	}
}

// shrink unmaps the last segment in the ring when at least
// trailingWrittenShrinkThreshold trailing segments (the last N, scanning
// backward from the tail) are all WRITTEN. This resolves the spec's open
// question about the shrink check in favor of the stated intent.
func (r *Ring) shrink() {
	n := len(r.buffers)
	if n <= trailingWrittenShrinkThreshold {
		return
	}

	trailingWritten := 0
	for i := n - 1; i >= 0 && trailingWritten < trailingWrittenShrinkThreshold; i-- {
		if r.buffers[i].Flag() != FlagWritten {
			break
		}
		trailingWritten++
	}
	if trailingWritten < trailingWrittenShrinkThreshold {
		return
	}

	last := r.buffers[n-1]
	if err := last.Unmap(); err != nil {
		log.Warnf("shmem: failed to unmap trailing segment %s: %v", last.Name, err)
	}
	r.buffers = r.buffers[:n-1]
}

// Drain is called at thread/process teardown: any segment still RECORDING
// is closed out with a REC_END announcement and unmapped.
func (r *Ring) Drain() {
	for _, b := range r.buffers {
		if b.Flag()&FlagRecording != 0 {
			r.pipe.Send(wire.ControlRecEnd, wire.EncodeSegmentName(b.Name))
			b.MarkWritten()
		}
		if err := b.Unmap(); err != nil {
			log.Warnf("shmem: failed to unmap segment %s during drain: %v", b.Name, err)
		}
	}
	r.buffers = nil
	r.curr = droppingIndex
}

// MaxBuf returns the high-water mark of ring length, for diagnostics.
func (r *Ring) MaxBuf() int {
	return r.maxBuf
}

// Seqnum returns the monotonic rotation counter, for diagnostics/testing.
func (r *Ring) Seqnum() uint64 {
	return r.seqnum
}

// CurrentRecords returns the bytes written so far to the active buffer, for
// testing. Returns nil if no buffer is currently writable.
func (r *Ring) CurrentRecords() []byte {
	buf := r.current()
	if buf == nil {
		return nil
	}
	return buf.Records()
}
