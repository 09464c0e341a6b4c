// Package obslog initializes the process-wide zerolog logger, the same
// way across every command the engine ships (cmd/indexer, cmd/consumer):
// pretty console output on a terminal, structured JSON otherwise.
package obslog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init builds a logger tagged with service, honoring level (one of
// debug/info/warn/error, case-insensitive; defaults to info on anything
// else).
func Init(service, level string) *zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	var logger zerolog.Logger
	if isTerminal() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Str("service", service).
			Caller().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", service).
			Logger()
	}
	return &logger
}

// SetLevel updates the global log level at runtime, e.g. in response to a
// reloaded config.
func SetLevel(logger *zerolog.Logger, level string) {
	l := parseLevel(level)
	zerolog.SetGlobalLevel(l)
	logger.Info().Str("level", l.String()).Msg("log level updated")
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// ChainLogger returns a child logger tagged with the chain name, the
// convention every per-chain component (historical, realtime)
// uses so log lines can be filtered by chain.
func ChainLogger(base *zerolog.Logger, chainName string) zerolog.Logger {
	return base.With().Str("chain", chainName).Logger()
}
