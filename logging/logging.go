// Package logging builds the process logger. Every connection worker derives
// a child logger from it, so writes go through a mutex-guarded sink and
// lines never interleave.
package logging

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// New returns a logger writing to w. format is "json" for one JSON object
// per line or "console" for human readable output.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer
	switch format {
	case "json":
		out = w
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	default:
		return zerolog.Nop(), errors.Errorf("unsupported log format %q", format)
	}

	return zerolog.New(zerolog.SyncWriter(out)).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "minihttpd").
		Logger(), nil
}
