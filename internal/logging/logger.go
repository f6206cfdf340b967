package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

// slogTrace sits below slog.LevelDebug; tint renders it as DBG-4.
const slogTrace = slog.LevelDebug - 4

var slogLevels = map[LogLevel]slog.Level{
	LevelError: slog.LevelError,
	LevelWarn:  slog.LevelWarn,
	LevelInfo:  slog.LevelInfo,
	LevelDebug: slog.LevelDebug,
	LevelTrace: slogTrace,
}

// ParseLevel maps a level name (ERROR, WARN, INFO, DEBUG, TRACE) to a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return LevelError, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "INFO":
		return LevelInfo, true
	case "DEBUG":
		return LevelDebug, true
	case "TRACE":
		return LevelTrace, true
	}
	return LevelInfo, false
}

// Logger is a component logger. All loggers derived from the same root share
// one level, so SetLevel on any of them applies everywhere.
type Logger struct {
	level  *slog.LevelVar
	prefix string
	out    *handlerRef
}

// handlerRef lets Configure swap the sink of every derived logger at once.
type handlerRef struct {
	mu sync.RWMutex
	h  slog.Handler
}

func (r *handlerRef) get() slog.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.h
}

func (r *handlerRef) set(h slog.Handler) {
	r.mu.Lock()
	r.h = h
	r.mu.Unlock()
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("charfs", os.Stderr)

		if level, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
			defaultLogger.SetLevel(level)
		}
	})
	return defaultLogger
}

// NewLogger creates a logger writing tinted records to w.
func NewLogger(prefix string, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	l := &Logger{
		level:  level,
		prefix: prefix,
		out:    &handlerRef{},
	}
	l.out.set(newHandler(w, level, os.Getenv("NO_COLOR") != ""))
	return l
}

func newHandler(w io.Writer, level *slog.LevelVar, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	})
}

// Configure redirects the output of this logger and every logger derived from it.
func (l *Logger) Configure(w io.Writer, noColor bool) {
	l.out.set(newHandler(w, l.level, noColor))
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(slogLevels[level])
}

// Enabled reports whether messages at level would be emitted.
func (l *Logger) Enabled(level LogLevel) bool {
	return slogLevels[level] >= l.level.Level()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	h := l.out.get()
	lvl := slogLevels[level]
	if !h.Enabled(context.Background(), lvl) {
		return
	}

	r := slog.NewRecord(time.Now(), lvl, fmt.Sprintf(format, args...), 0)
	if l.prefix != "" {
		r.AddAttrs(slog.String("component", l.prefix))
	}
	if err := h.Handle(context.Background(), r); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log message: %v\n", err)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger for a component, sharing level and output.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		level:  l.level,
		prefix: prefix,
		out:    l.out,
	}
}
