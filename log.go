package player

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the narrow logging surface every component depends on. It is
// satisfied by *charmlog.Logger directly; production code never imports
// github.com/charmbracelet/log outside of this file and cmd/playerd, so
// swapping the backend touches one place.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
	With(keyvals ...any) Logger
}

// charmLogger adapts *charmlog.Logger to the Logger interface; With must
// return a Logger, not a *charmlog.Logger, so it can't satisfy the
// interface directly.
type charmLogger struct {
	*charmlog.Logger
}

func (l charmLogger) With(keyvals ...any) Logger {
	return charmLogger{l.Logger.With(keyvals...)}
}

// NewLogger builds the default Logger, writing human-readable output to
// stderr at the given level. cmd/playerd raises level from -v/-vv flags.
func NewLogger(level charmlog.Level) Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
		Level:           level,
	})
	return charmLogger{l}
}

// nopLogger discards everything; used where a caller constructs a Runtime
// or Server without supplying a Logger (tests, mostly).
type nopLogger struct{}

func (nopLogger) Debug(msg any, keyvals ...any) {}
func (nopLogger) Info(msg any, keyvals ...any)  {}
func (nopLogger) Warn(msg any, keyvals ...any)  {}
func (nopLogger) Error(msg any, keyvals ...any) {}
func (nopLogger) With(keyvals ...any) Logger    { return nopLogger{} }
