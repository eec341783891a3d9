// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fntrace/mcount/clock"
	"github.com/fntrace/mcount/control"
	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/trigger"
	"github.com/fntrace/mcount/wire"
)

// Session is the process-wide state created once at init and read-only
// thereafter, except GlobalEnabled (mutated by TRACE_ON/OFF triggers on the
// hot path).
type Session struct {
	ID      string
	ExePath string
	PID     int

	Pipe *control.Pipe

	BufferSizeBytes int
	MaxStackDepth   int
	ThresholdNS     uint64
	DefaultDepth    int
	FilterMode      trigger.FilterMode

	GlobalEnabled atomic.Bool
	Triggers      *trigger.Table

	OutDir string
	// BaseAddr is the executable's load address, read back from its own
	// maps snapshot; 0 if it could not be determined.
	BaseAddr uint64
}

// New builds a Session from cfg and a pre-built trigger table, opens the
// control pipe, and sends the SESSION announcement. GlobalEnabled starts
// true unless FTRACE_DISABLED was set.
func New(cfg *Config, triggers *trigger.Table, filterMode trigger.FilterMode) (*Session, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("session: resolve exe path: %w", err)
	}

	s := &Session{
		ID:              clock.SessionID(),
		ExePath:         exePath,
		PID:             os.Getpid(),
		Pipe:            control.Open(cfg.PipeFD),
		BufferSizeBytes: cfg.BufferSizeBytes,
		MaxStackDepth:   cfg.MaxStackDepth,
		ThresholdNS:     cfg.ThresholdNS,
		DefaultDepth:    cfg.DefaultDepth,
		FilterMode:      filterMode,
		Triggers:        triggers,
		OutDir:          cfg.OutDir,
	}
	s.GlobalEnabled.Store(!cfg.InitiallyDisabled)

	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create outdir %s: %w", s.OutDir, err)
	}

	s.sendSession()
	if err := s.writeMapsFile(); err != nil {
		log.Warnf("session: failed to snapshot /proc/self/maps: %v", err)
	} else {
		s.BaseAddr = resolveBaseAddress(s.mapsPath(), s.ExePath)
	}

	return s, nil
}

func (s *Session) mapsPath() string {
	return filepath.Join(s.OutDir, fmt.Sprintf("sid-%s.map", s.ID))
}

func (s *Session) sendSession() {
	var sid [16]byte
	copy(sid[:], s.ID)

	payload := wire.SessionPayload{
		Time: uint64(clock.NowNS()),
		PID:  uint32(s.PID),
		TID:  uint32(clock.TID()),
		SID:  sid,
		Name: filepath.Base(s.ExePath),
	}.Encode()
	s.Pipe.Send(wire.ControlSession, payload)
}

// writeMapsFile copies /proc/self/maps verbatim to <outdir>/sid-<id>.map,
// the snapshot the external recorder uses to resolve addresses to symbols.
func (s *Session) writeMapsFile() error {
	src, err := os.Open("/proc/self/maps")
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(s.mapsPath())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// SendForkStart announces an imminent fork with the parent's pid.
func (s *Session) SendForkStart() {
	s.Pipe.Send(wire.ControlForkStart, wire.TIDPayload{
		Time: uint64(clock.NowNS()), PID: uint32(s.PID), TID: uint32(clock.TID()),
	}.Encode())
}

// SendForkEnd announces a completed fork, called from the child with its
// own (new) pid.
func (s *Session) SendForkEnd(parentPID, childPID int) {
	s.Pipe.Send(wire.ControlForkEnd, wire.TIDPayload{
		Time: uint64(clock.NowNS()), PID: uint32(parentPID), TID: uint32(childPID),
	}.Encode())
}

// SendTID announces a newly initialized thread.
func (s *Session) SendTID(tid int32) {
	s.Pipe.Send(wire.ControlTID, wire.TIDPayload{
		Time: uint64(clock.NowNS()), PID: uint32(s.PID), TID: uint32(tid),
	}.Encode())
}

// Close closes the control pipe at process fini.
func (s *Session) Close() {
	s.Pipe.Close()
}
