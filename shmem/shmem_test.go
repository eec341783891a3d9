// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package shmem

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntrace/mcount/control"
	"github.com/fntrace/mcount/wire"
)

func testSID(t *testing.T) string {
	return fmt.Sprintf("test%012x", os.Getpid())[:16] + "." + t.Name()
}

func TestBufferCreateAndUnmap(t *testing.T) {
	name := SegmentName(testSID(t), 1, 0)
	buf, err := Create(name, 64)
	require.NoError(t, err)
	defer buf.Unmap()

	assert.Equal(t, FlagNew, buf.Flag())
	buf.MarkRecording()
	assert.Equal(t, FlagRecording, buf.Flag())

	rec := []byte("12345678")
	buf.Append(rec)
	assert.Equal(t, uint32(len(rec)), buf.Size())
	assert.Equal(t, rec, buf.Records())

	buf.MarkWritten()
	assert.Equal(t, FlagWritten, buf.Flag())

	buf.Reuse()
	assert.Equal(t, FlagWritten|FlagRecording, buf.Flag())
	assert.Equal(t, uint32(0), buf.Size())
}

func TestRingRotatesWithoutLossWhenFull(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	pipe := control.Open(int(w.Fd()))
	defer w.Close()

	sid := testSID(t)
	// A buffer big enough for exactly one padded record.
	recSize := wire.PadLen(wire.RecordSize)
	ring, err := NewRing(sid, 42, headerSize+recSize, pipe)
	require.NoError(t, err)
	defer ring.Drain()

	rec1 := make([]byte, recSize)
	wire.Record{Time: 1, Type: wire.RecordEntry, Addr: 0x1000}.Encode(rec1, 0)
	ring.Append(rec1)
	assert.Equal(t, uint32(0), ring.Losts())

	rec2 := make([]byte, recSize)
	wire.Record{Time: 2, Type: wire.RecordEntry, Addr: 0x2000}.Encode(rec2, 0)
	ring.Append(rec2)
	assert.Equal(t, uint32(0), ring.Losts(), "rotation reuses segment 0, the lowest-index segment not RECORDING")

	rec3 := make([]byte, recSize)
	wire.Record{Time: 3, Type: wire.RecordEntry, Addr: 0x3000}.Encode(rec3, 0)
	ring.Append(rec3)

	// A third record that only fits after another rotation: segment 0 was
	// just marked WRITTEN, so it is reused again and nothing is dropped.
	assert.Equal(t, uint32(0), ring.Losts())
}

func TestShrinkUnmapsTrailingWrittenSegments(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	pipe := control.Open(int(w.Fd()))
	defer w.Close()

	sid := testSID(t)
	recSize := wire.PadLen(wire.RecordSize)
	ring, err := NewRing(sid, 43, headerSize+recSize, pipe)
	require.NoError(t, err)
	defer ring.Drain()

	rec := make([]byte, recSize)
	wire.Record{Time: 1, Type: wire.RecordEntry}.Encode(rec, 0)

	// Several rotations: each one marks segment 0 WRITTEN and reuses it, so
	// the ring stays at its two pre-allocated segments.
	for i := 0; i < 6; i++ {
		ring.Append(rec)
	}

	assert.LessOrEqual(t, len(ring.buffers), ring.maxBuf)

	// Extend the ring to five segments whose last three are WRITTEN; the
	// shrink policy then unmaps the last one.
	for idx := len(ring.buffers); idx < 5; idx++ {
		buf, err := Create(SegmentName(sid, 43, idx), headerSize+recSize)
		require.NoError(t, err)
		buf.MarkWritten()
		ring.buffers = append(ring.buffers, buf)
	}
	ring.shrink()
	assert.Len(t, ring.buffers, 4)
}
