package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	globalLogger = slog.New(slog.DiscardHandler)
	errorLogger  = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	verboseMode  bool
)

// Options configures the global logger
type Options struct {
	Verbose bool
	Level   string // debug, info, warn, error
	Format  string // text or json
	Output  io.Writer
}

// Init initializes the global logger. Without Verbose only errors are printed.
func Init(opts Options) {
	verboseMode = opts.Verbose

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if !opts.Verbose {
		globalLogger = slog.New(slog.DiscardHandler)
		errorLogger = slog.New(newHandler(out, opts.Format, slog.LevelError))
		slog.SetDefault(errorLogger)
		return
	}

	globalLogger = slog.New(newHandler(out, opts.Format, ParseLevel(opts.Level)))
	errorLogger = globalLogger
	slog.SetDefault(globalLogger)
}

func newHandler(out io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// ParseLevel maps a config level name to a slog level, defaulting to debug
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Logger returns the global logger for components that take a *slog.Logger
func Logger() *slog.Logger {
	return globalLogger
}

func Debug(msg string, args ...any) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	globalLogger.Warn(msg, args...)
}

// Error always logs error messages regardless of verbose mode
func Error(msg string, args ...any) {
	errorLogger.Error(msg, args...)
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return verboseMode
}
