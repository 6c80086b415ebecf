package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
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

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

// Logger provides structured logging capabilities
type Logger struct {
	level  LogLevel
	prefix string
	logger *log.Logger
	mu     sync.RWMutex

	// root is the logger whose level and output a prefixed logger shares
	root *Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("SANDFS")

		// Set initial log level from environment
		if level, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
			defaultLogger.SetLevel(level)
		}

		// Enable debug logging if FUSE_DEBUG is set
		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix
func NewLogger(prefix string) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.LUTC
	if os.Getenv("LOG_LONGFILE") != "" {
		flags |= log.Llongfile
	} else {
		flags |= log.Lshortfile
	}

	return &Logger{
		level:  LevelInfo, // Default to INFO level
		prefix: prefix,
		logger: log.New(os.Stderr, prefix+": ", flags),
	}
}

// ParseLevel maps a level name such as "debug" or "WARN" to its LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	for level, levelName := range levelNames {
		if strings.EqualFold(name, levelName) {
			return level, true
		}
	}
	return LevelInfo, false
}

func (l *Logger) base() *Logger {
	if l.root != nil {
		return l.root
	}
	return l
}

// SetOutput redirects the logger, and every logger derived from it, to w
func (l *Logger) SetOutput(w io.Writer) {
	l.base().logger.SetOutput(w)
}

// OpenLogFile appends all further output to the file at path. The caller
// closes the returned file once logging is done.
func (l *Logger) OpenLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.SetOutput(f)
	return f, nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	b := l.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	b := l.base()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.level
}

// shouldLog determines if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	return level <= l.Level()
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.root != nil {
		msg = l.prefix + ": " + msg
	}
	if err := l.base().logger.Output(3, fmt.Sprintf("[%s] %s", levelNames[level], msg)); err != nil {
		// write directly to stderr
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

// Printf logs at INFO level; it lets the logger stand in where a printf
// style sink is expected
func (l *Logger) Printf(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// WithPrefix creates a new logger with an additional prefix. It shares the
// level and output of the logger it was derived from.
func (l *Logger) WithPrefix(prefix string) *Logger {
	b := l.base()
	if l.root != nil {
		prefix = l.prefix + "/" + prefix
	}
	return &Logger{
		prefix: prefix,
		root:   b,
	}
}
