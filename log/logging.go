// Package log provides a public logging interface for github.com/fntrace/mcount.
package log // import "github.com/fntrace/mcount/log"

import (
	"log/slog"

	"github.com/fntrace/mcount/internal/log"
)

// SetLevel configures the log level for the profiler's internal logger.
func SetLevel(level slog.Level) {
	log.SetLevelLogger(level)
}

// SetLogger configures the profiler's internal logger.
func SetLogger(l slog.Logger) {
	log.SetLogger(l)
}
