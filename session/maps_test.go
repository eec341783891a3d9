// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeMaps(t *testing.T, exePath string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.map")
	content := fmt.Sprintf(
		"00400000-00401000 r-xp 00000000 08:01 1234 %s\n"+
			"00601000-00602000 rw-p 00001000 08:01 1234 %s\n"+
			"7fabcdef0000-7fabcdef1000 r-xp 00000000 08:01 5678 /lib/libc.so\n",
		exePath, exePath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExeBaseAddressFindsFirstMapping(t *testing.T) {
	path := writeFakeMaps(t, "/usr/bin/myapp")
	base, err := exeBaseAddress(path, "/usr/bin/myapp")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000), base)
}

func TestExeBaseAddressNotFound(t *testing.T) {
	path := writeFakeMaps(t, "/usr/bin/myapp")
	_, err := exeBaseAddress(path, "/usr/bin/other")
	assert.Error(t, err)
}

func TestResolveBaseAddressFallsBackToZero(t *testing.T) {
	assert.Equal(t, uint64(0), resolveBaseAddress("/nonexistent/path", "/usr/bin/myapp"))
}
