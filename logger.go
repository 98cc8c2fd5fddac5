package kiyo

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger shared by kiyo and all of its sub-packages.
// By default nothing is logged. Passing nil restores the silent default.
//
// Log levels used by kiyo:
//   - [slog.LevelDebug]: resource creation and destruction, per-frame timings
//   - [slog.LevelInfo]: lifecycle events (device selected, graph built, program reloaded)
//   - [slog.LevelWarn]: non-fatal failures (shader reload rejected, validation warnings)
//   - [slog.LevelError]: validation errors reported by the driver
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
