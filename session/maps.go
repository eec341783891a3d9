// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/stringutil"
)

// exeBaseAddress scans a /proc/<pid>/maps-format file for the first mapping
// whose pathname matches exePath and returns its load address. The
// recorder needs this to turn the raw virtual addresses recorded on the
// hot path into file-relative offsets once ASLR is factored out; it is
// computed once at session init, not on the hot path, so the allocation-free
// field-splitting below is a style match with the teacher's /proc parsers
// rather than a hot-path requirement.
func exeBaseAddress(mapsPath, exePath string) (uint64, error) {
	f, err := os.Open(mapsPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		var fields [6]string
		if stringutil.FieldsN(line, fields[:]) < 6 {
			continue
		}
		if fields[5] != exePath {
			continue
		}

		var addrs [2]string
		if stringutil.SplitN(fields[0], "-", addrs[:]) < 2 {
			continue
		}
		base, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		return base, nil
	}
	return 0, fmt.Errorf("session: no mapping for %s found in %s", exePath, mapsPath)
}

// resolveBaseAddress logs a warning and returns 0 rather than failing
// session init: a missing base address degrades address resolution
// downstream but must not stop tracing.
func resolveBaseAddress(mapsPath, exePath string) uint64 {
	base, err := exeBaseAddress(mapsPath, exePath)
	if err != nil {
		log.Warnf("session: %v", err)
		return 0
	}
	return base
}
