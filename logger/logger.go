package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var (
	log zerolog.Logger
)

// Init initializes a logger writing JSON to stderr at the LOG_LEVEL level.
func Init() (zerolog.Logger, error) {
	return InitWithOptions("", false, "")
}

// InitWithOptions initializes the logger with the specified options.
// If logFile is empty, logs to stderr so command output on stdout stays clean.
// If pretty is true, uses ConsoleWriter for human-readable output (only valid when logFile is empty).
// If level is empty, the LOG_LEVEL environment variable is used (debug, info, warn, error).
func InitWithOptions(logFile string, pretty bool, level string) (zerolog.Logger, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	lvl := parseLogLevel(level)

	output, err := openOutput(logFile, pretty)
	if err != nil {
		return zerolog.Logger{}, err
	}

	log = zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	switch {
	case logFile != "":
		log.Info().Str("path", logFile).Str("level", lvl.String()).Msg("Logger initialized")
	case pretty:
		log.Info().Str("output", "stderr").Str("format", "pretty").Str("level", lvl.String()).Msg("Logger initialized")
	default:
		log.Info().Str("output", "stderr").Str("level", lvl.String()).Msg("Logger initialized")
	}

	return log, nil
}

func openOutput(logFile string, pretty bool) (io.Writer, error) {
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		return file, nil
	case pretty:
		// Pretty console output, human-readable
		return zerolog.ConsoleWriter{Out: os.Stderr}, nil
	default:
		return os.Stderr, nil
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
