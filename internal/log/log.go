// Package log implements structured, leveled logging.
package log

import (
	"fmt"
	"io"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is a structured logger scoped to a module.
type Logger struct {
	logger kitlog.Logger
	level  Level
	module string
}

// NewDefaultLogger returns a logfmt logger on stderr at info level.
func NewDefaultLogger(module string) *Logger {
	logger, err := NewLogger(module, os.Stderr, FmtLogfmt, LevelInfo)
	if err != nil {
		panic(err)
	}
	return logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{logger: kitlog.NewNopLogger(), level: LevelError + 1, module: "nop"}
}

// NewLogger creates a logger writing to w.
func NewLogger(module string, w io.Writer, format Format, lvl Level) (*Logger, error) {
	// kitlog.DefaultCaller + 2 for the level methods and Logger.log.
	callerUnwind := 5

	var logger kitlog.Logger
	switch format {
	case FmtLogfmt:
		logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	case FmtJSON:
		logger = kitlog.NewJSONLogger(kitlog.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("log: unsupported log format: %v", format)
	}

	logger = kitlog.WithPrefix(logger,
		"ts", kitlog.DefaultTimestampUTC,
		"caller", kitlog.Caller(callerUnwind),
	)

	return &Logger{
		logger: logger,
		level:  lvl,
		module: module,
	}, nil
}

func (l *Logger) log(lvl Level, leveled func(kitlog.Logger) kitlog.Logger, msg string, keyvals []interface{}) {
	if l.level > lvl {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = leveled(l.logger).Log(keyvals...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, level.Debug, msg, keyvals)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, level.Info, msg, keyvals)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, level.Warn, msg, keyvals)
}

// Error logs at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, level.Error, msg, keyvals)
}

// With returns a clone of the logger carrying keyvals on every entry.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		logger: kitlog.With(l.logger, keyvals...),
		level:  l.level,
		module: l.module,
	}
}

// WithModule returns a clone of the logger reporting a different module.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		logger: l.logger,
		level:  l.level,
		module: module,
	}
}

// Level returns the minimum level that is emitted.
func (l *Logger) Level() Level {
	return l.level
}
