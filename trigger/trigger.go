// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger evaluates per-call recording policy: whether a call
// should be filtered in or out, whether its depth budget should change,
// whether argument/return-value capture is configured for it, and whether
// it forces unconditional recording of its whole subtree. Parsing the
// filter/trigger expression syntax into a Table is a collaborator's job
// (§6 of the spec); this package only evaluates an already-built table.
package trigger // import "github.com/fntrace/mcount/trigger"

import (
	"sort"

	lru "github.com/elastic/go-freelru"
)

// FilterMode is the session-wide include/exclude policy.
type FilterMode int

const (
	FilterNone FilterMode = iota
	FilterInclude
	FilterExclude
)

// ArgSpec describes one fixed-size or string argument/return-value slot to
// capture, in declaration order.
type ArgSpec struct {
	// Size is the number of bytes to copy for a fixed-size value. Ignored
	// when IsString is true.
	Size uint8
	// IsString marks a NUL-terminated, length-prefixed string argument
	// rather than a fixed-size value.
	IsString bool
}

// Trigger carries the policy attached to one callee address.
type Trigger struct {
	Addr uintptr

	HasFilter  bool
	FilterMode FilterMode

	HasDepth bool
	Depth    int

	TraceOn  bool
	TraceOff bool

	// Argument specs are applied at ENTRY, Retval specs at EXIT.
	Argument []ArgSpec
	Retval   []ArgSpec

	Trace   bool // force-record this call and its subtree
	Recover bool // restore the original return address during this call
}

// lookupCacheSize bounds the hot-address cache sitting in front of the
// binary search; call sites tend to revisit a small working set of callees
// far more often than the full trigger table, so a small LRU turns the
// common case into an O(1) lookup.
const lookupCacheSize = 4096

// Table is a pre-built, read-only mapping from callee address to Trigger.
// It is populated once at process init by a collaborator that parses the
// user's filter/trigger expressions, and is thereafter read-only; Lookup is
// fronted by a small LRU cache of recently resolved addresses.
type Table struct {
	sorted []Trigger
	cache  *lru.SyncedLRU[uintptr, *Trigger]
}

// NewTable builds a lookup table from an unordered slice of triggers. The
// cache is a SyncedLRU rather than a plain LRU because Lookup is called
// from whichever OS thread hit the instrumentation hook, not from a single
// owning goroutine.
func NewTable(triggers []Trigger) *Table {
	sorted := make([]Trigger, len(triggers))
	copy(sorted, triggers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

	cache, err := lru.NewSynced[uintptr, *Trigger](lookupCacheSize, func(addr uintptr) uint32 {
		return uint32(addr) ^ uint32(addr>>32)
	})
	if err != nil {
		// Only fails on a zero capacity, which lookupCacheSize never is.
		panic("trigger: failed to create lookup cache: " + err.Error())
	}

	return &Table{sorted: sorted, cache: cache}
}

// Lookup finds the trigger registered for addr, if any.
func (t *Table) Lookup(addr uintptr) (*Trigger, bool) {
	if t == nil {
		return nil, false
	}
	if tr, ok := t.cache.Get(addr); ok {
		return tr, tr != nil
	}

	i := sort.Search(len(t.sorted), func(i int) bool { return t.sorted[i].Addr >= addr })
	var tr *Trigger
	if i < len(t.sorted) && t.sorted[i].Addr == addr {
		tr = &t.sorted[i]
	}
	t.cache.Add(addr, tr)
	return tr, tr != nil
}

// Len reports the number of triggers in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sorted)
}
