// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fntrace/mcount/clock"
	"github.com/fntrace/mcount/session"
	"github.com/fntrace/mcount/trigger"
)

func TestGetRuntimeIsSharedAcrossConcurrentFirstCalls(t *testing.T) {
	clock.ResetSessionIDForTest()
	ResetRuntimeForTest()
	t.Setenv(session.EnvOutDir, t.TempDir())
	t.Cleanup(ResetRuntimeForTest)

	const n = 8
	results := make([]*Runtime, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetRuntime(trigger.NewTable(nil), trigger.FilterNone)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}
