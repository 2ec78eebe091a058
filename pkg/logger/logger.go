// Package logger provides the ambient structured-logging wrapper every
// other package in this module uses, grounded on
// jhoicas-Inventario-api/pkg/logger: zerolog underneath, console-pretty
// in development and JSON in production, level driven by pkg/config.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the logger's environment and verbosity.
type Config struct {
	// Env is "development" (console-pretty) or "production" (JSON).
	Env string
	// Level is one of trace, debug, info, warn, error.
	Level string
}

// Logger wraps a zerolog.Logger so callers depend on this package's
// surface rather than zerolog directly.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger from cfg and installs it as zerolog's package
// logger, so collaborators that log via the top-level zerolog/log
// package (none in this module today, but third-party collaborators
// might) pick up the same configuration.
func New(cfg Config) *Logger {
	var w io.Writer = os.Stdout
	if cfg.Env == "development" {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	zl := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything, for library callers
// that never configured one explicitly.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Trace, Debug, Info, Warn, Error delegate to the underlying zerolog
// logger.
func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// With starts a sub-logger builder with fixed fields.
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}
