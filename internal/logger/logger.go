// Package logger implements smpp.Logger on zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oarkflow/smpp34/pkg/smpp"
)

// Logger writes structured events through a zerolog.Logger
type Logger struct {
	zl    zerolog.Logger
	file  *os.File
	owner bool
}

// New builds a logger from cfg. Output is "stdout", "stderr" or a file path;
// format is "json" or "console".
func New(cfg smpp.LoggingConfig) (*Logger, error) {
	var (
		out  io.Writer
		file *os.File
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		out = f
		file = f
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000", NoColor: file != nil}
	default:
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, err
	}

	l := NewWithWriter(out, level)
	l.file = file
	l.owner = file != nil
	return l, nil
}

// NewWithWriter logs JSON events at level or above to w
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger().Level(level)}
}

// ParseLevel maps a configured level name to a zerolog level. An empty name is info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level: %s", name)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.write(l.zl.Debug(), msg, fields)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.write(l.zl.Info(), msg, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.write(l.zl.Warn(), msg, fields)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.write(l.zl.Error(), msg, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.write(l.zl.Fatal(), msg, fields)
}

// WithFields returns a logger that adds fields to every event
func (l *Logger) WithFields(fields map[string]interface{}) smpp.Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger(), file: l.file}
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Close closes the log file opened by New, if any
func (l *Logger) Close() error {
	if l.owner && l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) write(ev *zerolog.Event, msg string, fields []interface{}) {
	if ev == nil {
		return
	}
	ev.Fields(toMap(fields)).Msg(msg)
}

// toMap converts alternating key/value pairs. A trailing key without a value
// is kept under "extra".
func toMap(fields []interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, (len(fields)+1)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		if i+1 >= len(fields) {
			m["extra"] = key
			break
		}
		m[key] = fields[i+1]
	}
	return m
}
