// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
)

// ControlMagic tags every frame sent over the control pipe.
const ControlMagic uint32 = 0xF700F700

// ControlType enumerates the messages sent to the recorder over the control pipe.
type ControlType uint32

const (
	ControlSession   ControlType = 0
	ControlTID       ControlType = 1
	ControlForkStart ControlType = 2
	ControlForkEnd   ControlType = 3
	ControlRecStart  ControlType = 4
	ControlRecEnd    ControlType = 5
	ControlLost      ControlType = 6
)

func (t ControlType) String() string {
	switch t {
	case ControlSession:
		return "SESSION"
	case ControlTID:
		return "TID"
	case ControlForkStart:
		return "FORK_START"
	case ControlForkEnd:
		return "FORK_END"
	case ControlRecStart:
		return "REC_START"
	case ControlRecEnd:
		return "REC_END"
	case ControlLost:
		return "LOST"
	default:
		return fmt.Sprintf("ControlType(%d)", uint32(t))
	}
}

// controlHeaderSize is the size of the magic+type+len prefix of every frame.
const controlHeaderSize = 12

// EncodeFrame builds one complete, contiguous control-pipe frame: the
// magic/type/len header immediately followed by payload. It is used when the
// caller wants a single buffer to hand to a single write(2) call.
func EncodeFrame(typ ControlType, payload []byte) []byte {
	buf := make([]byte, controlHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], ControlMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(typ))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[controlHeaderSize:], payload)
	return buf
}

// SessionPayload encodes the SESSION control message body.
type SessionPayload struct {
	Time uint64
	PID  uint32
	TID  uint32
	SID  [16]byte
	Name string
}

// Encode serializes the SESSION payload.
func (p SessionPayload) Encode() []byte {
	nameBytes := []byte(p.Name)
	buf := make([]byte, 8+4+4+16+4+len(nameBytes))
	binary.LittleEndian.PutUint64(buf[0:8], p.Time)
	binary.LittleEndian.PutUint32(buf[8:12], p.PID)
	binary.LittleEndian.PutUint32(buf[12:16], p.TID)
	copy(buf[16:32], p.SID[:])
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(nameBytes)))
	copy(buf[36:], nameBytes)
	return buf
}

// TIDPayload encodes the TID/FORK_START/FORK_END control message body:
// { time:u64, pid:u32, tid:u32 }.
type TIDPayload struct {
	Time uint64
	PID  uint32
	TID  uint32
}

// Encode serializes the TID/fork payload.
func (p TIDPayload) Encode() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], p.Time)
	binary.LittleEndian.PutUint32(buf[8:12], p.PID)
	binary.LittleEndian.PutUint32(buf[12:16], p.TID)
	return buf
}

// EncodeSegmentName encodes a REC_START/REC_END payload: just the segment
// name bytes.
func EncodeSegmentName(name string) []byte {
	return []byte(name)
}

// EncodeLost encodes a LOST control message payload: the dropped-event count.
func EncodeLost(count uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, count)
	return buf
}
