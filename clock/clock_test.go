// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNowNSMonotonic(t *testing.T) {
	a := NowNS()
	b := NowNS()
	assert.GreaterOrEqual(t, b, a)
}

func TestSessionIDStable(t *testing.T) {
	ResetSessionIDForTest()
	defer ResetSessionIDForTest()

	first := SessionID()
	assert.Len(t, first, 16)
	second := SessionID()
	assert.Equal(t, first, second)
}

func TestTIDNonZero(t *testing.T) {
	assert.NotZero(t, TID())
}
