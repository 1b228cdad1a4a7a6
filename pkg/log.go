package pkg

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component identifies a subsystem for log filtering.
type Component string

// Emulation stack component identifiers.
const (
	ComponentDevice    Component = "device"
	ComponentInterface Component = "interface"
	ComponentEndpoint  Component = "endpoint"
	ComponentRequest   Component = "request"
	ComponentStack     Component = "stack"
	ComponentHAL       Component = "hal"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the default logger used by the emulation stack.
	DefaultLogger *slog.Logger

	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum log level for all stack logging.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to write to w in the given
// format using the current log level. A nil writer selects os.Stderr.
func SetLogFormat(w io.Writer, format LogFormat) {
	if w == nil {
		w = os.Stderr
	}
	switch format {
	case LogFormatJSON:
		SetLogger(NewJSONLogger(w, nil))
	default:
		SetLogger(NewLogger(w, nil))
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// RotatingLogConfig describes a size-rotated log file.
type RotatingLogConfig struct {
	Path       string // Log file path
	MaxSizeMB  int    // Rotate after this many megabytes
	MaxBackups int    // Number of rotated files to keep
	Compress   bool   // Gzip rotated files
}

// NewRotatingWriter returns a writer that rotates the file described by cfg.
// The caller owns the returned writer and should close it on exit.
func NewRotatingWriter(cfg RotatingLogConfig) io.WriteCloser {
	size := cfg.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    size,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Debug(msg, append([]any{"component", string(component)}, args...)...)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Info(msg, append([]any{"component", string(component)}, args...)...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Warn(msg, append([]any{"component", string(component)}, args...)...)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Error(msg, append([]any{"component", string(component)}, args...)...)
}
