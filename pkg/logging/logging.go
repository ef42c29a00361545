// SPDX-License-Identifier: MPL-2.0

// Package logging builds the process-wide logger from the logging section
// of the servicebay configuration.
//
// The constructor returns a standard *slog.Logger so that library packages
// (checkpoint, batch, servicing) stay free of any particular logging
// implementation; rendering is delegated to a charmbracelet/log handler,
// which styles text output for terminals and emits JSON lines when
// configured for machine consumption.
package logging

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"

	"github.com/servicebay/servicebay/pkg/config"
)

// New builds a *slog.Logger that writes to w according to cfg. Unknown
// level or format values fall back to info-level text; Load validates the
// configuration, so that path only matters for hand-built configs.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := charmlog.Options{
		ReportTimestamp: true,
		Level:           charmLevel(cfg.Level),
		Prefix:          config.AppName,
	}
	if cfg.Format == config.LogFormatJSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	return slog.New(charmlog.NewWithOptions(w, opts))
}

// Default returns a stderr logger for the default logging configuration
// (info-level styled text).
func Default() *slog.Logger {
	return New(os.Stderr, config.DefaultConfig().Logging)
}

func charmLevel(level config.LogLevel) charmlog.Level {
	switch level {
	case config.LogLevelDebug:
		return charmlog.DebugLevel
	case config.LogLevelWarn:
		return charmlog.WarnLevel
	case config.LogLevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
