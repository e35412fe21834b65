package log

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

var (
	_ pflag.Value = (*Level)(nil)
	_ pflag.Value = (*Format)(nil)
)

// Level is a log level. It implements pflag.Value.
type Level uint

const (
	// LevelDebug is the log level for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the log level for informative messages.
	LevelInfo
	// LevelWarn is the log level for warnings.
	LevelWarn
	// LevelError is the log level for errors.
	LevelError
)

func (l *Level) String() string {
	switch *l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", uint(*l))
	}
}

// Set parses s case-insensitively.
func (l *Level) Set(s string) error {
	switch strings.ToLower(s) {
	case "debug":
		*l = LevelDebug
	case "info":
		*l = LevelInfo
	case "warn", "warning":
		*l = LevelWarn
	case "error":
		*l = LevelError
	default:
		return fmt.Errorf("log: invalid log level: '%s'", s)
	}
	return nil
}

func (l *Level) Type() string {
	return "[debug,info,warn,error]"
}

// Format is a log output format. It implements pflag.Value.
type Format uint

const (
	// FmtLogfmt is the logfmt format.
	FmtLogfmt Format = iota
	// FmtJSON is the JSON format.
	FmtJSON
)

func (f *Format) String() string {
	switch *f {
	case FmtLogfmt:
		return "logfmt"
	case FmtJSON:
		return "json"
	default:
		return fmt.Sprintf("format(%d)", uint(*f))
	}
}

// Set parses s case-insensitively.
func (f *Format) Set(s string) error {
	switch strings.ToLower(s) {
	case "logfmt":
		*f = FmtLogfmt
	case "json":
		*f = FmtJSON
	default:
		return fmt.Errorf("log: invalid log format: '%s'", s)
	}
	return nil
}

func (f *Format) Type() string {
	return "[logfmt,json]"
}
