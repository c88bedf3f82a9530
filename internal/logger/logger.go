// Package logger - Configures the process-wide phuslu logger and hands out
// component loggers.
package logger

import (
	"io"
	"os"

	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/config"
)

// ParseLevel converts a level name to a log.Level. Unknown names map to info.
func ParseLevel(level string) log.Level {
	switch level {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// NewWriter creates the log writer described by cfg.
//
// Arguments:
//   - cfg: The logging configuration.
//   - out: Overrides the configured stream when non-nil.
//
// Returns:
//   - log.Writer: The writer.
//   - error: An error for unknown formats or writers.
func NewWriter(cfg config.LoggingConfig, out io.Writer) (log.Writer, error) {
	if out == nil {
		switch cfg.Writer {
		case "stdout":
			out = os.Stdout
		case "stderr", "":
			out = os.Stderr
		default:
			return nil, errors.Errorf("unknown log writer %q", cfg.Writer)
		}
	}

	switch cfg.Format {
	case "json":
		return &log.IOWriter{Writer: out}, nil
	case "logfmt":
		return &log.ConsoleWriter{
			Formatter: log.LogfmtFormatter{TimeField: "time"}.Formatter,
			Writer:    out,
		}, nil
	case "console", "":
		return &log.ConsoleWriter{
			ColorOutput:    cfg.ColorOutput,
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         out,
		}, nil
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.Format)
	}
}

// Configure replaces log.DefaultLogger according to cfg.
func Configure(cfg config.LoggingConfig) error {
	w, err := NewWriter(cfg, nil)
	if err != nil {
		return err
	}
	log.DefaultLogger = log.Logger{
		Level:      ParseLevel(cfg.Level),
		Caller:     cfg.Caller,
		TimeField:  "time",
		TimeFormat: "15:04:05.000",
		Writer:     w,
	}
	return nil
}

// New returns a copy of log.DefaultLogger tagged with component. Call it
// after Configure.
func New(component string) *log.Logger {
	bl := &log.DefaultLogger
	return &log.Logger{
		Level:        bl.Level,
		Caller:       0,
		TimeField:    bl.TimeField,
		TimeFormat:   bl.TimeFormat,
		TimeLocation: bl.TimeLocation,
		Writer:       bl.Writer,
		Context:      log.NewContext(bl.Context).Str("component", component).Value(),
	}
}
