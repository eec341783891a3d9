// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntrace/mcount/trigger"
)

func TestForkHandlersResetThreadRegistry(t *testing.T) {
	rt := newTestRuntime(t, trigger.NewTable(nil))

	rc := rt.OnEntry(0xAAAA, 0x1000, nil, nil, nil)
	require.Equal(t, int32(0), rc)
	rt.OnExit(nil, nil)

	var before int
	rt.threads.Range(func(_, _ any) bool { before++; return true })
	require.Equal(t, 1, before)

	parentPID := rt.Session.PID
	rt.PrepareFork()
	rt.AfterForkChild(parentPID)

	var after int
	rt.threads.Range(func(_, _ any) bool { after++; return true })
	assert.Equal(t, 0, after)
	assert.Equal(t, os.Getpid(), rt.Session.PID)
	assert.False(t, rt.finished.Load())
}
