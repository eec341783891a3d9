// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntrace/mcount/wire"
)

func TestOpenInvalidFD(t *testing.T) {
	p := Open(-1)
	assert.False(t, p.Valid())
	p.Send(wire.ControlTID, []byte("dropped silently"))
}

func TestOpenRejectsNonFIFO(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notafifo")
	require.NoError(t, err)
	defer f.Close()

	p := Open(int(f.Fd()))
	assert.False(t, p.Valid())
}

func TestSendRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	p := Open(int(w.Fd()))
	require.True(t, p.Valid())

	payload := wire.EncodeLost(7)
	p.Send(wire.ControlLost, payload)
	w.Close()

	frame := make([]byte, 12+len(payload))
	_, err = r.Read(frame)
	require.NoError(t, err)

	assert.Equal(t, wire.ControlMagic, binary.LittleEndian.Uint32(frame[0:4]))
	assert.Equal(t, uint32(wire.ControlLost), binary.LittleEndian.Uint32(frame[4:8]))
	assert.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(frame[8:12]))
	assert.Equal(t, payload, frame[12:])
}
