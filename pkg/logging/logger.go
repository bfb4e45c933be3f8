package logging

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// ParseLevel maps a level name to its slog level. Unknown names map to INFO.
func ParseLevel(level string) (slog.Level, bool) {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(level))) {
	case LogLevelDebug:
		return slog.LevelDebug, true
	case LogLevelInfo:
		return slog.LevelInfo, true
	case LogLevelWarn, "WARNING":
		return slog.LevelWarn, true
	case LogLevelError:
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// LogContext represents contextual information for log entries
type LogContext map[string]interface{}

// StructuredLogger provides structured logging capabilities
type StructuredLogger struct {
	logger    *slog.Logger
	component string
	context   LogContext
}

// newJSONHandler builds the JSON handler shared by every logger. Output must
// never go to stdout, which carries the stdio transport.
func newJSONHandler(w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
			case slog.LevelKey:
				return slog.Attr{Key: "level", Value: a.Value}
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: a.Value}
			}
			return a
		},
	}
	return slog.NewJSONHandler(w, opts)
}

// NewStructuredLogger creates a standalone debug-level logger writing to stderr
func NewStructuredLogger(component string) *StructuredLogger {
	return newStructuredLogger(newJSONHandler(os.Stderr, slog.LevelDebug), component)
}

func newStructuredLogger(handler slog.Handler, component string) *StructuredLogger {
	return &StructuredLogger{
		logger:    slog.New(handler),
		component: component,
		context:   make(LogContext),
	}
}

// Component returns the component name attached to every entry
func (sl *StructuredLogger) Component() string {
	return sl.component
}

// Slog returns a plain slog logger carrying the component and context
func (sl *StructuredLogger) Slog() *slog.Logger {
	args := make([]any, 0, 2+2*len(sl.context))
	args = append(args, "component", sl.component)
	for k, v := range sl.context {
		args = append(args, k, v)
	}
	return sl.logger.With(args...)
}

// WithContext adds context to the logger (returns a new logger instance)
func (sl *StructuredLogger) WithContext(key string, value interface{}) *StructuredLogger {
	newLogger := &StructuredLogger{
		logger:    sl.logger,
		component: sl.component,
		context:   make(LogContext, len(sl.context)+1),
	}

	for k, v := range sl.context {
		newLogger.context[k] = v
	}
	newLogger.context[key] = value
	return newLogger
}

// WithError adds error information to the logger context
func (sl *StructuredLogger) WithError(err error) *StructuredLogger {
	if err == nil {
		return sl
	}

	newLogger := sl.WithContext("error", err.Error())

	var structuredErr *errors.StructuredError
	if stderrors.As(err, &structuredErr) {
		newLogger = newLogger.
			WithContext("error_category", structuredErr.Category).
			WithContext("error_code", structuredErr.Code).
			WithContext("error_severity", structuredErr.Severity).
			WithContext("error_recoverable", structuredErr.IsRecoverable())

		for k, v := range structuredErr.Context {
			newLogger = newLogger.WithContext(fmt.Sprintf("error_ctx_%s", k), v)
		}
	}

	return newLogger
}

func (sl *StructuredLogger) buildLogAttributes() []slog.Attr {
	attrs := make([]slog.Attr, 0, 1+len(sl.context))
	attrs = append(attrs, slog.String("component", sl.component))
	for key, value := range sl.context {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

func (sl *StructuredLogger) log(ctx context.Context, level slog.Level, message string) {
	sl.logger.LogAttrs(ctx, level, message, sl.buildLogAttributes()...)
}

// Enabled reports whether entries at level would be written
func (sl *StructuredLogger) Enabled(level slog.Level) bool {
	return sl.logger.Enabled(context.Background(), level)
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string) {
	sl.log(context.Background(), slog.LevelDebug, message)
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string) {
	sl.log(context.Background(), slog.LevelInfo, message)
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string) {
	sl.log(context.Background(), slog.LevelWarn, message)
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string) {
	sl.log(context.Background(), slog.LevelError, message)
}

// ErrorContext logs an error message with the request context
func (sl *StructuredLogger) ErrorContext(ctx context.Context, message string) {
	sl.log(ctx, slog.LevelError, message)
}

// LogMCPMessage logs an MCP protocol message with timing information
func (sl *StructuredLogger) LogMCPMessage(method string, requestID interface{}, duration time.Duration, success bool) {
	logger := sl.WithContext("mcp_method", method).
		WithContext("duration_ms", duration.Milliseconds()).
		WithContext("success", success)
	if requestID != nil {
		logger = logger.WithContext("request_id", requestID)
	}

	if success {
		logger.Info("MCP message processed successfully")
	} else {
		logger.Warn("MCP message processing failed")
	}
}

// LogStartup logs application startup events
func (sl *StructuredLogger) LogStartup(event string, details map[string]interface{}) {
	logger := sl.WithContext("startup_event", event)
	for k, v := range details {
		logger = logger.WithContext(k, v)
	}
	logger.Info("Application startup event")
}

// LogShutdown logs application shutdown events
func (sl *StructuredLogger) LogShutdown(event string, details map[string]interface{}) {
	logger := sl.WithContext("shutdown_event", event)
	for k, v := range details {
		logger = logger.WithContext(k, v)
	}
	logger.Info("Application shutdown event")
}

// LogCacheOperation logs response cache operations
func (sl *StructuredLogger) LogCacheOperation(operation string, key string, success bool, details map[string]interface{}) {
	logger := sl.WithContext("cache_operation", operation).
		WithContext("cache_key", key).
		WithContext("success", success)

	for k, v := range details {
		logger = logger.WithContext(k, v)
	}

	if success {
		logger.Debug("Cache operation completed")
	} else {
		logger.Warn("Cache operation failed")
	}
}

// LogUpstreamCall logs a Pizza API round trip. Details are sanitized.
func (sl *StructuredLogger) LogUpstreamCall(method, path string, status int, duration time.Duration, details map[string]interface{}) {
	logger := sl.WithContext("http_method", method).
		WithContext("http_path", path).
		WithContext("http_status", status).
		WithContext("duration_ms", duration.Milliseconds())

	for k, v := range sanitizeLogData(details) {
		logger = logger.WithContext(k, v)
	}

	if status >= 200 && status < 300 {
		logger.Debug("Pizza API call completed")
	} else {
		logger.Warn("Pizza API call failed")
	}
}

// LogFileSystemEvent logs config file watch events
func (sl *StructuredLogger) LogFileSystemEvent(eventType string, path string, details map[string]interface{}) {
	logger := sl.WithContext("fs_event_type", eventType).
		WithContext("fs_path", sanitizeFilePath(path))

	for k, v := range details {
		logger = logger.WithContext(k, v)
	}

	logger.Info("File system event detected")
}

// LogCircuitBreakerEvent logs circuit breaker state changes
func (sl *StructuredLogger) LogCircuitBreakerEvent(name string, oldState, newState errors.CircuitBreakerState) {
	logger := sl.WithContext("circuit_breaker", name).
		WithContext("old_state", oldState.String()).
		WithContext("new_state", newState.String())

	if newState == errors.CircuitBreakerClosed {
		logger.Info("Circuit breaker state changed")
		return
	}
	logger.Warn("Circuit breaker state changed")
}

// LogDegradationEvent logs service degradation events
func (sl *StructuredLogger) LogDegradationEvent(component errors.ServiceComponent, oldLevel, newLevel errors.DegradationLevel) {
	sl.WithContext("degraded_component", string(component)).
		WithContext("old_level", oldLevel.String()).
		WithContext("new_level", newLevel.String()).
		Warn("Service degradation level changed")
}

// sanitizeLogData masks values whose keys look like credentials
func sanitizeLogData(data map[string]interface{}) map[string]interface{} {
	sanitized := make(map[string]interface{}, len(data))

	sensitiveKeys := []string{
		"password", "token", "secret", "key", "auth", "credential", "cookie",
	}

	for k, v := range data {
		keyLower := strings.ToLower(k)
		isSensitive := false
		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(keyLower, sensitiveKey) {
				isSensitive = true
				break
			}
		}

		switch {
		case isSensitive:
			sanitized[k] = "[REDACTED]"
		default:
			if str, ok := v.(string); ok {
				sanitized[k] = sanitizeStringValue(str)
			} else {
				sanitized[k] = v
			}
		}
	}

	return sanitized
}

// sanitizeStringValue masks long opaque tokens
func sanitizeStringValue(value string) interface{} {
	if len(value) > 40 && isAlphanumeric(value) {
		return fmt.Sprintf("[MASKED:%d_chars]", len(value))
	}
	return value
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// sanitizeFilePath keeps only the file name of a path
func sanitizeFilePath(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
