package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	initLevel     = "info"
	initConsole   = true
)

// Configure sets the level and output format used when the logger is
// first initialized. Must be called before the first log call to take
// effect; later calls are ignored.
func Configure(level string, console bool) {
	initLevel = level
	initConsole = console
}

// Init initializes the default logger. It ensures that the logger is
// initialized only once.
func Init() {
	once.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = time.RFC3339

		var out = os.Stdout
		if initConsole {
			defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
				Level(parseLevel(initLevel)).With().Timestamp().Logger()
			return
		}
		defaultLogger = zerolog.New(out).Level(parseLevel(initLevel)).With().Timestamp().Logger()
	})
}

// Get returns the initialized default logger.
func Get() zerolog.Logger {
	Init()
	return defaultLogger
}

// Info logs an informational message with alternating key/value args.
func Info(msg string, args ...any) {
	l := Get()
	apply(l.Info(), args).Msg(msg)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	l := Get()
	apply(l.Warn(), args).Msg(msg)
}

// Error logs an error message with the error attached.
func Error(msg string, err error, args ...any) {
	l := Get()
	e := l.Error()
	if err != nil {
		e = e.Err(err)
	}
	apply(e, args).Msg(msg)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	l := Get()
	apply(l.Debug(), args).Msg(msg)
}

func apply(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
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
