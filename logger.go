package volren

import (
	"log/slog"

	"github.com/gogpu/volren/internal/vlog"
)

// SetLogger configures the logger for volren and all its sub-packages.
// By default, volren produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by volren:
//   - [slog.LevelDebug]: uploads, program links, frame statistics
//   - [slog.LevelInfo]: lifecycle events (adapter opened, volume loaded, presets reloaded)
//   - [slog.LevelWarn]: non-fatal issues (skipped presets, shader diagnostics, release errors)
//   - [slog.LevelError]: a volume failed to stream
//
// Example:
//
//	// Enable info-level logging to stderr:
//	volren.SetLogger(slog.Default())
//
//	// Enable debug-level logging for full diagnostics:
//	volren.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	vlog.SetLogger(l)
}

// Logger returns the current logger used by volren.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return vlog.Logger()
}
