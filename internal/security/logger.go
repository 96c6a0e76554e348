package security

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// SecureLogger provides structured logging with automatic redaction of
// GitHub tokens, device codes and other secrets
type SecureLogger struct {
	logger *slog.Logger
}

// Sensitive data patterns that should be redacted from logs
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),

	// OAuth parameters in JSON, form and header shapes
	regexp.MustCompile(`(?i)(access_token|refresh_token|device_code|authorization)(["':=\s]+)["']?([A-Za-z0-9\-._~+/]+=*)`),

	// GitHub token prefixes (oauth, user-to-server, personal, server, refresh)
	regexp.MustCompile(`\bgh[opusr]_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`),

	regexp.MustCompile(`(?i)(client_secret)(["':=\s]+)["']?([A-Za-z0-9\-._~+/]{16,})`),

	// Email addresses (privacy)
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

var urlSecretParams = regexp.MustCompile(`([?&](?:token|access_token|device_code|code|key|secret)=)[^&]*`)

// LoggerOptions configures NewSecureLoggerWithOptions
type LoggerOptions struct {
	Enabled bool
	Level   slog.Level
	Output  io.Writer
}

// NewSecureLogger creates a logger that writes JSON to stderr when verbose
// and discards everything otherwise
func NewSecureLogger(verbose bool) *SecureLogger {
	return NewSecureLoggerWithOptions(LoggerOptions{
		Enabled: verbose,
		Level:   slog.LevelInfo,
	})
}

// NewSecureLoggerWithOptions creates a secure logger with explicit level and sink
func NewSecureLoggerWithOptions(opts LoggerOptions) *SecureLogger {
	if !opts.Enabled {
		return &SecureLogger{logger: slog.New(slog.DiscardHandler)}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: redactAttr,
	})

	return &SecureLogger{logger: slog.New(handler)}
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(redactSensitiveData(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(redactSensitiveData(err.Error()))
		}
	}
	return a
}

func (sl *SecureLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *SecureLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *SecureLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *SecureLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

// LogAuthEvent logs device flow and sign-in events
func (sl *SecureLogger) LogAuthEvent(operation string, success bool, details map[string]any) {
	attrs := []any{
		slog.String("event_type", "authentication"),
		slog.String("operation", operation),
		slog.Bool("success", success),
	}

	for k, v := range details {
		attrs = append(attrs, slog.Any(k, v))
	}

	if success {
		sl.logger.Info("Authentication event", attrs...)
	} else {
		sl.logger.Warn("Authentication event", attrs...)
	}
}

// LogNetworkEvent logs one outgoing request
func (sl *SecureLogger) LogNetworkEvent(method, url string, statusCode int, duration string) {
	sl.logger.Debug("Network event",
		slog.String("event_type", "network"),
		slog.String("method", method),
		slog.String("url", redactURLSecrets(url)),
		slog.Int("status_code", statusCode),
		slog.String("duration", duration),
	)
}

// LogCryptoEvent logs credential sealing and opening
func (sl *SecureLogger) LogCryptoEvent(operation string, success bool, errMsg string) {
	attrs := []any{
		slog.String("event_type", "crypto"),
		slog.String("operation", operation),
		slog.Bool("success", success),
	}

	if errMsg != "" {
		attrs = append(attrs, slog.String("error", errMsg))
	}

	if success {
		sl.logger.Debug("Crypto event", attrs...)
	} else {
		sl.logger.Error("Crypto event", attrs...)
	}
}

// With returns a logger carrying additional fields
func (sl *SecureLogger) With(attrs ...any) *SecureLogger {
	return &SecureLogger{logger: sl.logger.With(attrs...)}
}

func redactSensitiveData(input string) string {
	result := input

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Keep the key and separator, drop the value
			submatches := pattern.FindStringSubmatch(match)
			if len(submatches) >= 4 {
				return submatches[1] + submatches[2] + "[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}

func redactURLSecrets(url string) string {
	base, query, found := strings.Cut(url, "?")
	if !found {
		return url
	}
	query = urlSecretParams.ReplaceAllString("?"+query, "${1}[REDACTED]")
	return base + query
}

// RedactString removes secrets from an arbitrary string
func RedactString(input string) string {
	return redactSensitiveData(input)
}

// IsLoggingEnabled checks if logging is enabled at the specified level
func (sl *SecureLogger) IsLoggingEnabled(level slog.Level) bool {
	return sl.logger.Enabled(context.Background(), level)
}
