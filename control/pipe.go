// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the side channel to the external recorder
// process: a pre-opened pipe file descriptor carrying length-prefixed framed
// messages (session metadata, thread/fork announcements, segment lifecycle,
// and lost-event counts).
package control // import "github.com/fntrace/mcount/control"

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/wire"
)

// Pipe is the control channel to the recorder. A Pipe with no valid fd is a
// legal, fully functional no-op: recording continues, just without any side
// channel, which is useful for standalone runs without a recorder attached.
type Pipe struct {
	fd    int
	valid bool
}

// Open validates fd as a FIFO and wraps it as a Pipe. An invalid fd (<0) or
// one that does not refer to a FIFO disables control messages rather than
// failing initialization: the spec treats this as supported standalone
// operation, not a configuration error.
func Open(fd int) *Pipe {
	if fd < 0 {
		return &Pipe{fd: -1, valid: false}
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		log.Warnf("control: fstat on pipe fd %d failed, disabling control messages: %v", fd, err)
		return &Pipe{fd: -1, valid: false}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		log.Warnf("control: fd %d is not a FIFO, disabling control messages", fd)
		return &Pipe{fd: -1, valid: false}
	}
	return &Pipe{fd: fd, valid: true}
}

// Valid reports whether this Pipe will actually deliver messages.
func (p *Pipe) Valid() bool {
	return p != nil && p.valid
}

// Send writes one framed control message. If the pipe has no valid fd, the
// send is silently dropped. A short or failed write is fatal: the control
// pipe is a blocking, best-effort-is-not-an-option channel, and the
// recorder is assumed to keep up.
func (p *Pipe) Send(typ wire.ControlType, payload []byte) {
	if !p.Valid() {
		return
	}

	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], wire.ControlMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(typ))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))

	iovs := [][]byte{header[:]}
	if len(payload) > 0 {
		iovs = append(iovs, payload)
	}

	want := len(header) + len(payload)
	n, err := unix.Writev(p.fd, iovs)
	if err != nil || n != want {
		log.Fatalf("control: short or failed write of %s frame (wrote %d of %d): %v",
			typ, n, want, err)
	}
}

// Close releases the pipe. It does not close the underlying fd: the fd was
// inherited from the environment and is owned by whoever passed it in.
func (p *Pipe) Close() {
	if p != nil {
		p.valid = false
	}
}

// FD returns the wrapped file descriptor, or -1 if invalid. Exposed for
// diagnostics only.
func (p *Pipe) FD() int {
	if p == nil {
		return -1
	}
	return p.fd
}
