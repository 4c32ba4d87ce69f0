// Package logging wraps zerolog the way the CLI binaries in this
// module configure their global loggers, while keeping every core
// package (merkle, fetch, mafile) free of a global logging singleton:
// those packages accept an optional zerolog.Logger and default to a
// disabled one when none is supplied, per this module's "no global
// mutable state" design note.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewCLILogger builds the console-friendly logger used by cmd/datatool:
// human-readable, colorized when attached to a terminal, timestamped,
// and set to the given level.
func NewCLILogger(level zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Disabled is the zero-cost logger used by core packages that were not
// given an explicit zerolog.Logger. It matches zerolog.Nop() rather
// than the package-global zerolog.Logger, so that constructing a
// merkle/fetch/mafile component without a logger never touches any
// process-wide state.
func Disabled() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel maps a CLI --log-level flag value to a zerolog.Level,
// defaulting to zerolog.InfoLevel for an empty string.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(s)
}
