// SPDX-License-Identifier: AGPL-3.0-only

// Package logging provides the service's leveled logger. It mirrors the
// teacher's logging.New/FileLogger/SetDefaultLogger API shape, built on top
// of zerolog the way inipew-pewbot's pkg/logx wraps it: readable console
// output from New (to any writer, including a log file), structured JSON
// from FileLogger.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogLevel mirrors the teacher's level constants.
type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Info:
		return zerolog.InfoLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	case Fatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a config string into a LogLevel, defaulting to Info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn":
		return Warn
	case "error":
		return Error
	case "fatal":
		return Fatal
	default:
		return Info
	}
}

// Options configures a new Logger.
type Options struct {
	Level  LogLevel
	Writer io.Writer // defaults to os.Stderr
}

// Logger is a thin, leveled wrapper over a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New creates a console-formatted logger (human-readable, for non-stdio runs).
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
	zl := zerolog.New(console).Level(opts.Level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// FileLogger creates a JSON-structured logger appending to the file at path.
func FileLogger(path string, level LogLevel) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zl := zerolog.New(f).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.zl.Fatal().Msgf(format, args...) }

var (
	defaultLogger atomic.Pointer[Logger]
	defaultOnce   sync.Once
)

// SetDefaultLogger installs l as the process-wide default.
func SetDefaultLogger(l *Logger) { defaultLogger.Store(l) }

// GetDefaultLogger returns the process-wide default, creating a stderr
// console logger at Info level on first use if none was set.
func GetDefaultLogger() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger.Load() == nil {
			defaultLogger.Store(New(Options{Level: Info}))
		}
	})
	return defaultLogger.Load()
}
