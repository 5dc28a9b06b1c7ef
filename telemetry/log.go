// Package telemetry wires the ambient logging and metrics stack: a
// thin zerolog wrapper for best-effort/background events, and an
// optional prometheus registry for cache and durability gauges. Errors
// callers must observe are never routed through here — they stay plain
// Go `error` values.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the engine-wide structured logger. The zero value (via
// NewNop) discards everything, so library consumers aren't forced to
// see output unless they opt in.
type Logger struct {
	zl zerolog.Logger
}

// NewNop returns a logger that discards all events.
func NewNop() Logger {
	return Logger{zl: zerolog.Nop()}
}

// NewConsole returns a human-readable logger writing to w (or os.Stderr
// if w is nil) — handy for tests and the embedding application's own
// debug output.
func NewConsole(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return Logger{zl: zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()}
}

func (l Logger) Warn(msg string, fields map[string]interface{}) {
	ev := l.zl.Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l Logger) Info(msg string, fields map[string]interface{}) {
	ev := l.zl.Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l Logger) Error(msg string, err error, fields map[string]interface{}) {
	ev := l.zl.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
