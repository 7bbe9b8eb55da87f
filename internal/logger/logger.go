// Package logger provides the runtime's global structured logger.
//
// Logging is zerolog-based, matching the rest of the stack. On top of
// zerolog's own level filtering we layer the integer log-level thresholds
// from the spec (DEBUG=1000, INFO=500, BOOT=0, WARN=-500, ERROR=-1000):
// a message is emitted iff level <= configured threshold. This lets
// components that only know their own integer priority (the hook engine,
// the catalog) log through the same Logger without re-deriving a zerolog
// level name each time.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the spec's integer log-level thresholds.
type Level int

const (
	LevelError Level = -1000
	LevelWarn  Level = -500
	LevelBoot  Level = 0
	LevelInfo  Level = 500
	LevelDebug Level = 1000
)

var (
	// Log is the global structured logger, available once Initialize runs.
	Log zerolog.Logger

	threshold = LevelInfo
)

// Initialize sets up the global logger with the given zerolog level name
// and output format, and records the spec-level integer threshold used by
// Emit for components that think in priorities rather than names.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	threshold = fromZerolog(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "pluginrt").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func fromZerolog(l zerolog.Level) Level {
	switch l {
	case zerolog.DebugLevel:
		return LevelDebug
	case zerolog.WarnLevel:
		return LevelWarn
	case zerolog.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// For returns a component-scoped sub-logger, the same pattern the teacher
// uses for Security()/Database()/Webhook() loggers.
func For(component string) *zerolog.Logger {
	l := Log.With().Str("component", component).Logger()
	return &l
}

// Emit logs msg at the given spec-level priority iff level <= threshold,
// per spec §6: "messages emitted iff level <= LOG_LEVEL".
func Emit(component string, level Level, msg string, fields map[string]interface{}) {
	if level > threshold {
		return
	}
	evt := Log.With().Str("component", component).Fields(fields).Logger()
	switch {
	case level <= LevelError:
		evt.Error().Msg(msg)
	case level <= LevelWarn:
		evt.Warn().Msg(msg)
	case level <= LevelInfo:
		evt.Info().Msg(msg)
	default:
		evt.Debug().Msg(msg)
	}
}
