package common

import (
	"log/slog"
	"os"
)

type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON selects the JSON handler instead of text.
	JSON bool

	// Service is added as a 'service' attribute to all log messages.
	Service string

	// Version is added as a 'version' attribute to all log messages.
	Version string
}

// SetupLogger creates the process-wide slog logger.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
