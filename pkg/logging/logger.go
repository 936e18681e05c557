package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger initialization.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or console
	Component string
}

// InitLogging initializes logging with defaults (info level, json output)
func InitLogging() {
	Init(Config{Level: "info", Format: "json"})
}

// Init configures the global zerolog logger
func Init(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var writer io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		writer = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	ctx := zerolog.New(writer).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		ctx = ctx.Str("component", c)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// Logger returns the global structured logger
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	log.Info().Msgf(format, v...)
}

// Warnf logs warn level messages
func Warnf(format string, v ...interface{}) {
	log.Warn().Msgf(format, v...)
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	log.Error().Msgf(format, v...)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
