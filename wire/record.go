// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the on-the-wire layouts shared between the hot-path
// encoder and any out-of-process consumer of the shared-memory buffers and
// the control pipe: the fixed event record header, the optional
// argument/retval payload encoding, and the control-message frame.
package wire // import "github.com/fntrace/mcount/wire"

import (
	"encoding/binary"

	"github.com/fntrace/mcount/internal/nopanicslicereader"
)

// RecordType identifies the kind of a fixed-size event record.
type RecordType uint16

const (
	RecordEntry RecordType = 0
	RecordExit  RecordType = 1
	RecordLost  RecordType = 2
)

// unusedSentinel fills the Record.Unused byte so that a zeroed buffer never
// looks like a valid-but-empty record when scanned by a consumer.
const unusedSentinel = 0xA5

// RecordSize is the packed, little-endian size of a Record: 8 (Time) + 2
// (Type) + 1 (Unused) + 1 (More) + 2 (Depth) + 8 (Addr) = 22 bytes. Every
// record, and any trailing argument/retval payload, is additionally padded
// up to an 8-byte boundary so that the next record in a buffer always starts
// 8-byte aligned.
const RecordSize = 22

// Record is the fixed portion of one ENTRY, EXIT, or LOST event.
type Record struct {
	Time  uint64     // ENTRY: start_time, EXIT: end_time, LOST: 0
	Type  RecordType // ENTRY=0, EXIT=1, LOST=2
	More  bool       // true if an argument/retval payload follows
	Depth uint16     // recorded depth
	Addr  uint64     // child_ip, or dropped-event count for LOST
}

// Encode serializes r into buf[off:off+RecordSize]. buf must have at least
// off+RecordSize bytes.
func (r Record) Encode(buf []byte, off int) {
	b := buf[off : off+RecordSize]
	binary.LittleEndian.PutUint64(b[0:8], r.Time)
	binary.LittleEndian.PutUint16(b[8:10], uint16(r.Type))
	b[10] = unusedSentinel
	if r.More {
		b[11] = 1
	} else {
		b[11] = 0
	}
	binary.LittleEndian.PutUint16(b[12:14], r.Depth)
	binary.LittleEndian.PutUint64(b[14:22], r.Addr)
}

// Decode reads a Record out of buf at offset off. It never panics: truncated
// input decodes as zero fields, matching nopanicslicereader's "degrade, don't
// crash" contract for a consumer racing a producer.
func Decode(buf []byte, off int) Record {
	return Record{
		Time:  nopanicslicereader.Uint64(buf, uint(off)),
		Type:  RecordType(nopanicslicereader.Uint16(buf, uint(off+8))),
		More:  nopanicslicereader.Uint8(buf, uint(off+11)) != 0,
		Depth: nopanicslicereader.Uint16(buf, uint(off+12)),
		Addr:  nopanicslicereader.Uint64(buf, uint(off+14)),
	}
}

// PadLen rounds n up to the next multiple of 8, matching the payload
// padding rule applied after the fixed record header and after each
// argument payload.
func PadLen(n int) int {
	return (n + 7) &^ 7
}
