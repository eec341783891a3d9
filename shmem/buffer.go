// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package shmem implements the per-thread ring of shared-memory write
// buffers that carry event records to the external recorder without
// blocking the traced program: a bounded sequence of mmap'd segments with a
// three-state producer/consumer handshake per segment.
package shmem // import "github.com/fntrace/mcount/shmem"

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Flag bits for a Buffer's header. The transition graph is strictly
// NEW->RECORDING, RECORDING->WRITTEN, WRITTEN->RECORDING (on reuse, by
// OR-ing RECORDING in, so a reused segment reads WRITTEN|RECORDING); the
// consumer side, out of scope here, is the only reader of WRITTEN buffers
// and never writes the flag itself.
const (
	FlagNew       uint32 = 0
	FlagRecording uint32 = 1
	FlagWritten   uint32 = 2
)

// headerSize is the size in bytes of a Buffer's {flag, size} header that
// precedes the raw record bytes in the mapped region.
const headerSize = 8

// Buffer is one mmap'd segment of the ring: a fixed-size shared-memory
// region named "/ftrace-<sid>-<tid>-<NNN>", usable as an append-only log of
// event records once it is in the RECORDING state.
type Buffer struct {
	Name string
	data []byte // mmap'd region: [flag(4) size(4) records...]
}

// SegmentName formats the POSIX shared-memory object name for the idx'th
// segment of the ring belonging to thread tid in session sid.
func SegmentName(sid string, tid int32, idx int) string {
	return fmt.Sprintf("/ftrace-%s-%d-%03d", sid, tid, idx)
}

// Create allocates a new shared-memory segment of the given size (including
// the 8-byte header) and maps it RDWR. The segment starts in the NEW state.
func Create(name string, size int) (*Buffer, error) {
	if size <= headerSize {
		return nil, fmt.Errorf("shmem: buffer size %d too small", size)
	}

	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("shmem: ftruncate %s: %w", path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("shmem: mmap %s: %w", path, err)
	}

	return &Buffer{Name: name, data: data}, nil
}

// shmPath maps a POSIX shared-memory object name (leading "/") onto the
// tmpfs-backed /dev/shm directory, the same backing store glibc's
// shm_open(3) uses on Linux.
func shmPath(name string) string {
	return filepath.Join("/dev/shm", strings.TrimPrefix(name, "/"))
}

// Unmap releases the mapping and removes the backing shared-memory object.
// Safe to call on an already-unmapped Buffer.
func (b *Buffer) Unmap() error {
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	_ = os.Remove(shmPath(b.Name))
	return err
}

func (b *Buffer) flagPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&b.data[0]))
}

func (b *Buffer) sizePtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&b.data[4]))
}

// Flag atomically loads the buffer's state.
func (b *Buffer) Flag() uint32 {
	return atomic.LoadUint32(b.flagPtr())
}

// setFlag atomically stores a new flag value (NEW->RECORDING at allocation).
func (b *Buffer) setFlag(v uint32) {
	atomic.StoreUint32(b.flagPtr(), v)
}

// MarkWritten transitions RECORDING->WRITTEN at rotation time. Performed by
// the producer with a plain atomic store: only the producer ever makes this
// transition.
func (b *Buffer) MarkWritten() {
	atomic.StoreUint32(b.flagPtr(), FlagWritten)
}

// Reuse resets size to zero and ORs in RECORDING, the WRITTEN->RECORDING
// reuse transition. The atomic OR (rather than a store) matches the spec's
// handshake: a concurrent consumer that is mid-read of the stale WRITTEN
// value observes a superset of bits, never a torn state.
func (b *Buffer) Reuse() {
	atomic.StoreUint32(b.sizePtr(), 0)
	addr := b.flagPtr()
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|FlagRecording) {
			return
		}
	}
}

// MarkRecording performs the initial NEW->RECORDING transition for a freshly
// allocated segment.
func (b *Buffer) MarkRecording() {
	b.setFlag(FlagRecording)
}

// Size returns the number of record bytes currently written.
func (b *Buffer) Size() uint32 {
	return atomic.LoadUint32(b.sizePtr())
}

// Capacity is the number of bytes available for records, excluding the header.
func (b *Buffer) Capacity() int {
	return len(b.data) - headerSize
}

// Remaining is the number of unused record bytes in the buffer.
func (b *Buffer) Remaining() int {
	return b.Capacity() - int(b.Size())
}

// Append copies rec into the buffer at the current write offset and bumps
// size. The caller must have already verified len(rec) <= Remaining().
func (b *Buffer) Append(rec []byte) {
	off := headerSize + int(b.Size())
	copy(b.data[off:off+len(rec)], rec)
	atomic.AddUint32(b.sizePtr(), uint32(len(rec)))
}

// Records returns a read-only view over the record bytes written so far.
// Intended for tests and for an in-process stand-in of the external
// consumer; a real consumer maps the segment itself.
func (b *Buffer) Records() []byte {
	return b.data[headerSize : headerSize+int(b.Size())]
}
