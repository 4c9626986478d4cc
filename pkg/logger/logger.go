// Package logger builds the process-wide zerolog instance. Every component
// derives its own logger from this root via With().Str("component", ...).
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects verbosity and output shape.
type Config struct {
	Level  string // zerolog level name; empty or unknown falls back to info
	Pretty bool   // human-readable console output for dev runs
}

// New builds the root logger: JSON to stdout by default, a console writer
// when Pretty is set. The level also becomes the zerolog global level so
// derived loggers inherit it.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetGlobalLogger replaces zerolog's package-level logger so code logging
// through log.Logger shares the process sink.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
