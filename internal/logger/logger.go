package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "tycho").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// Engine creates a logger for the compiler/executor front door (parse,
// render, project, drive, orchestrated as one request).
func Engine() *zerolog.Logger {
	l := Log.With().Str("component", "engine").Logger()
	return &l
}

// Parser creates a logger for C2 System Model & Parser events.
func Parser() *zerolog.Logger {
	l := Log.With().Str("component", "parser").Logger()
	return &l
}

// Projection creates a logger for C3 Projection events.
func Projection() *zerolog.Logger {
	l := Log.With().Str("component", "projection").Logger()
	return &l
}

// Driver creates a logger for C4 Orchestrator Driver events.
func Driver() *zerolog.Logger {
	l := Log.With().Str("component", "driver").Logger()
	return &l
}

// Registry creates a logger for C5 Registry/Context events.
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}

// HTTP creates a logger for HTTP request events.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
