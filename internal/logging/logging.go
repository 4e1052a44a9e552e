// Package logging provides the structured logger shared by every
// component, wrapping zerolog the way Dhanuzh-dcode wires its own
// logger in cmd/dcode/main.go, generalized into an injectable
// dependency instead of a package-level global.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the component/phase tagging fields
// this module's error taxonomy uses, so log lines and corerr.Error values
// share the same vocabulary.
type Logger struct {
	zerolog.Logger
}

// Config selects the sink and verbosity for New.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	Pretty     bool   // human-readable console output instead of JSON
	Output     io.Writer
	TimestampFormat string
}

// New builds a Logger per cfg. A zero Config produces an info-level JSON
// logger writing to stderr.
func New(cfg Config) Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		tsFormat := cfg.TimestampFormat
		if tsFormat == "" {
			tsFormat = time.Kitchen
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tsFormat}
	}

	base := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return Logger{base}
}

// Component returns a child logger tagged with the originating
// component, mirroring corerr.Error's Component field.
func (l Logger) Component(name string) Logger {
	return Logger{l.With().Str("component", name).Logger()}
}

// WithTool returns a child logger tagged with the tool name, for use
// inside the dispatch harness and tool implementations.
func (l Logger) WithTool(name string) Logger {
	return Logger{l.With().Str("tool", name).Logger()}
}
