// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rstack

import (
	"encoding/binary"

	"github.com/fntrace/mcount/trigger"
)

// ValueSource supplies raw argument or return-value bytes at pack time. An
// architecture-specific register snapshot implements this; tests use a
// canned slice.
type ValueSource interface {
	// Fixed returns the next n raw bytes for a fixed-size argument.
	Fixed(n uint8) []byte
	// String returns the next argument's string value and whether the
	// underlying pointer was null.
	String() (s string, isNull bool)
}

// nullStringLen is the sentinel length written for a null string pointer,
// per the spec's null-pointer encoding.
const nullStringLen = 4

// PackArgs packs specs (in declaration order) from src into buf, which must
// be at least len(buf) >= 4 bytes (room for the leading size header). It
// returns the packed size (excluding the header) and false if the total
// exceeds ARGBUF_SIZE-4 (len(buf)-4), in which case the size header in
// buf[:4] is left unchanged (payload bytes of earlier specs may already have
// been written) and the caller must not set the ARGUMENT/RETVAL flag.
func PackArgs(buf []byte, specs []trigger.ArgSpec, src ValueSource) (size int, ok bool) {
	maxSize := len(buf) - 4
	off := 4
	for _, spec := range specs {
		var n int
		if spec.IsString {
			s, isNull := src.String()
			if isNull {
				if off+2+4 > len(buf) {
					return 0, false
				}
				buf[off] = byte(nullStringLen)
				buf[off+1] = byte(nullStringLen >> 8)
				for i := 0; i < 4; i++ {
					buf[off+2+i] = 0xFF
				}
				n = padLen4(2 + nullStringLen)
			} else {
				raw := len(s)
				if off+2+raw+1 > len(buf) {
					return 0, false
				}
				buf[off] = byte(raw)
				buf[off+1] = byte(raw >> 8)
				copy(buf[off+2:], s)
				buf[off+2+raw] = 0
				n = padLen4(raw + 1 + 2)
			}
		} else {
			v := src.Fixed(spec.Size)
			if off+int(spec.Size) > len(buf) {
				return 0, false
			}
			copy(buf[off:off+int(spec.Size)], v)
			n = padLen4(int(spec.Size))
		}
		off += n
		if off-4 > maxSize {
			return 0, false
		}
	}
	total := off - 4
	binary.LittleEndian.PutUint32(buf[:4], uint32(total))
	return total, true
}

func padLen4(n int) int {
	return (n + 3) &^ 3
}

// PayloadBytes returns the bytes previously packed into buf by PackArgs,
// excluding the leading size header: exactly the bytes record_trace_data
// copies after the fixed Record when more=1.
func PayloadBytes(buf []byte) []byte {
	size := binary.LittleEndian.Uint32(buf[:4])
	return buf[4 : 4+size]
}
