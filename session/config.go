// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns process-wide configuration and the Session value
// that the lifecycle, dispatcher, and encoder packages are built around. Its
// env-var surface, naming, and FIFO/threshold defaults are grounded directly
// on the instrumentation runtime this module reimplements; parsing a
// filter/trigger/argument/retval expression into a *trigger.Table is a
// collaborator's job and is accepted here only as opaque strings.
package session // import "github.com/fntrace/mcount/session"

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/fntrace/mcount/internal/log"
	"github.com/fntrace/mcount/internal/util"
)

// Environment variable names read at process init.
const (
	EnvPipeFD       = "FTRACE_PIPE"
	EnvLogFD        = "FTRACE_LOGFD"
	EnvDebug        = "FTRACE_DEBUG"
	EnvDebugDomain  = "FTRACE_DEBUG_DOMAIN"
	EnvOutDir       = "FTRACE_DIR"
	EnvBufferSize   = "FTRACE_BUFFER"
	EnvMaxStack     = "FTRACE_MAX_STACK"
	EnvThreshold    = "FTRACE_THRESHOLD"
	EnvColor        = "FTRACE_COLOR"
	EnvDemangle     = "FTRACE_DEMANGLE"
	EnvFilter       = "FTRACE_FILTER"
	EnvTrigger      = "FTRACE_TRIGGER"
	EnvArgument     = "FTRACE_ARGUMENT"
	EnvRetval       = "FTRACE_RETVAL"
	EnvDepth        = "FTRACE_DEPTH"
	EnvDisabled     = "FTRACE_DISABLED"
	EnvPLTHook      = "FTRACE_PLTHOOK"
)

// Defaults mirror the reference runtime's compiled-in constants.
const (
	DefaultBufferSize   = 128 * 1024
	DefaultMaxStackDepth = 1024
	DefaultDepth        = 1<<31 - 1 // effectively unlimited unless overridden
	DefaultOutDir       = "/tmp/ftrace"
	ArgbufSize          = 1024
)

// Config is the raw, validated process configuration read from the
// environment at init. Filter/Trigger/Argument/Retval are left as
// unparsed expression strings: building the *trigger.Table from them is a
// collaborator's job (§6).
type Config struct {
	PipeFD   int // -1 if absent/invalid
	LogFD    int // -1 if absent/invalid
	OutDir   string

	BufferSizeBytes int
	MaxStackDepth   int
	ThresholdNS     uint64
	DefaultDepth    int

	FilterExpr   string
	TriggerExpr  string
	ArgumentExpr string
	RetvalExpr   string

	InitiallyDisabled bool
	PLTHookEnabled    bool
	ColorEnabled      bool
	DemangleEnabled   bool

	DebugLevel  int
	DebugDomain string
}

// LoadConfig reads and validates the FTRACE_* environment variables. A
// missing variable uses its documented default; a present-but-invalid
// pipe fd is recorded as -1 (disabling control messages) rather than
// failing, per §4.8's "invalid pipe fd is not fatal" policy.
func LoadConfig() *Config {
	cfg := &Config{
		PipeFD:          -1,
		LogFD:           -1,
		OutDir:          DefaultOutDir,
		BufferSizeBytes: DefaultBufferSize,
		MaxStackDepth:   DefaultMaxStackDepth,
		DefaultDepth:    DefaultDepth,
	}

	if v, ok := os.LookupEnv(EnvPipeFD); ok {
		cfg.PipeFD = parseFDOrDisable(v, EnvPipeFD, true)
	}
	if v, ok := os.LookupEnv(EnvLogFD); ok {
		cfg.LogFD = parseFDOrDisable(v, EnvLogFD, false)
	}
	if v, ok := os.LookupEnv(EnvOutDir); ok && v != "" {
		cfg.OutDir = v
	}
	if v, ok := os.LookupEnv(EnvBufferSize); ok {
		cfg.BufferSizeBytes = int(util.DecToUint64(v))
	}
	if v, ok := os.LookupEnv(EnvMaxStack); ok {
		cfg.MaxStackDepth = int(util.DecToUint64(v))
	}
	if v, ok := os.LookupEnv(EnvThreshold); ok {
		cfg.ThresholdNS = util.DecToUint64(v)
	}
	if v, ok := os.LookupEnv(EnvDepth); ok {
		cfg.DefaultDepth = int(util.DecToUint64(v))
	}

	cfg.FilterExpr = os.Getenv(EnvFilter)
	cfg.TriggerExpr = os.Getenv(EnvTrigger)
	cfg.ArgumentExpr = os.Getenv(EnvArgument)
	cfg.RetvalExpr = os.Getenv(EnvRetval)

	if _, ok := os.LookupEnv(EnvDisabled); ok {
		cfg.InitiallyDisabled = true
	}
	if _, ok := os.LookupEnv(EnvPLTHook); ok {
		cfg.PLTHookEnabled = true
	}
	if v, ok := os.LookupEnv(EnvColor); ok {
		cfg.ColorEnabled = v != "0"
	}
	if v, ok := os.LookupEnv(EnvDemangle); ok {
		cfg.DemangleEnabled = v != "0"
	}
	if v, ok := os.LookupEnv(EnvDebug); ok {
		cfg.DebugLevel = int(util.DecToUint64(v))
		cfg.DebugDomain = os.Getenv(EnvDebugDomain)
	}

	return cfg
}

// parseFDOrDisable parses an integer fd and, when requireFIFO is set,
// verifies it is a FIFO; on any failure it logs and returns -1 rather than
// treating the condition as fatal.
func parseFDOrDisable(v, envName string, requireFIFO bool) int {
	fd, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("session: invalid %s=%q: %v", envName, v, err)
		return -1
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		log.Warnf("session: %s=%d: fstat failed, ignoring: %v", envName, fd, err)
		return -1
	}
	if requireFIFO && st.Mode&unix.S_IFMT != unix.S_IFIFO {
		log.Warnf("session: %s=%d is not a FIFO, ignoring", envName, fd)
		return -1
	}
	return fd
}

// String renders the config for diagnostics.
func (c *Config) String() string {
	return fmt.Sprintf("pipefd=%d bufsize=%d maxstack=%d threshold=%dns outdir=%s",
		c.PipeFD, c.BufferSizeBytes, c.MaxStackDepth, c.ThresholdNS, c.OutDir)
}
