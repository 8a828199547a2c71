// Package logging configures the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls the logger's level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a structured logger. "pretty" produces human-readable console
// output for local development; "json" (the default) is what a log
// collector scrapes in production.
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout
	if opts.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return zerolog.New(output).With().Timestamp().Str("service", "kvs").Logger()
}
