package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
)

// ToolFailureMessagePrefix starts every diagnostic line for a failed tool call
const ToolFailureMessagePrefix = "Error executing MCP tool: "

// LoggingManager manages structured logging across the application
type LoggingManager struct {
	loggers map[string]*StructuredLogger
	mutex   sync.RWMutex

	handler slog.Handler
	level   *slog.LevelVar

	// Global context that gets added to all log entries
	globalContext LogContext

	stats LoggingStats
}

// LoggingStats tracks logging statistics
type LoggingStats struct {
	TotalMessages    int64            `json:"totalMessages"`
	MessagesByLevel  map[string]int64 `json:"messagesByLevel"`
	MessagesByLogger map[string]int64 `json:"messagesByLogger"`
	ErrorCount       int64            `json:"errorCount"`
	ToolFailures     int64            `json:"toolFailures"`
	LastLogTime      time.Time        `json:"lastLogTime"`
}

// NewLoggingManager creates a logging manager writing JSON to stderr at INFO
func NewLoggingManager() *LoggingManager {
	return NewLoggingManagerWithWriter(os.Stderr)
}

// NewLoggingManagerWithWriter creates a logging manager writing JSON to w
func NewLoggingManagerWithWriter(w io.Writer) *LoggingManager {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	return &LoggingManager{
		loggers:       make(map[string]*StructuredLogger),
		handler:       newJSONHandler(w, level),
		level:         level,
		globalContext: make(LogContext),
		stats: LoggingStats{
			MessagesByLevel:  make(map[string]int64),
			MessagesByLogger: make(map[string]int64),
		},
	}
}

// GetLogger gets or creates a logger for a specific component
func (lm *LoggingManager) GetLogger(component string) *StructuredLogger {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger
	}

	logger := newStructuredLogger(lm.handler, component)
	for key, value := range lm.globalContext {
		logger = logger.WithContext(key, value)
	}

	lm.loggers[component] = logger
	return logger
}

// SlogLogger returns a plain slog logger for libraries that accept one
func (lm *LoggingManager) SlogLogger(component string) *slog.Logger {
	return lm.GetLogger(component).Slog()
}

// SetLogLevel sets the logging level for all loggers, including ones already
// handed out. Invalid levels fall back to INFO and report false.
func (lm *LoggingManager) SetLogLevel(level string) bool {
	parsed, ok := ParseLevel(level)
	lm.level.Set(parsed)
	return ok
}

// GetLogLevel returns the current level name
func (lm *LoggingManager) GetLogLevel() string {
	return lm.level.Level().String()
}

func (lm *LoggingManager) shouldLog(level slog.Level) bool {
	return level >= lm.level.Level()
}

// SetGlobalContext sets global context that will be added to all log entries
func (lm *LoggingManager) SetGlobalContext(key string, value interface{}) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.globalContext[key] = value

	for component, logger := range lm.loggers {
		lm.loggers[component] = logger.WithContext(key, value)
	}
}

// LogSystemHealth logs system health information
func (lm *LoggingManager) LogSystemHealth(healthData map[string]interface{}) {
	logger := lm.GetLogger("health")
	for k, v := range healthData {
		logger = logger.WithContext(k, v)
	}

	logger.Info("System health check")
	lm.updateStats("health", slog.LevelInfo)
}

// LogError logs an error with full context
func (lm *LoggingManager) LogError(component string, err error, message string, context map[string]interface{}) {
	logger := lm.GetLogger(component).WithError(err)
	for k, v := range context {
		logger = logger.WithContext(k, v)
	}

	logger.Error(message)
	lm.updateStats(component, slog.LevelError)
}

// ToolFailureReporter returns the diagnostic sink for failed tool calls. Each
// failure is one ERROR line carrying the tool name and the failure message.
func (lm *LoggingManager) ToolFailureReporter() func(ctx context.Context, tool, message string) {
	return func(ctx context.Context, tool, message string) {
		lm.GetLogger("tool_adapter").
			WithContext("tool", tool).
			WithContext("error_message", message).
			ErrorContext(ctx, ToolFailureMessagePrefix+message)

		lm.mutex.Lock()
		lm.stats.ToolFailures++
		lm.mutex.Unlock()
		lm.updateStats("tool_adapter", slog.LevelError)
	}
}

// LogCircuitBreakerStateChange logs circuit breaker state changes
func (lm *LoggingManager) LogCircuitBreakerStateChange(name string, oldState, newState errors.CircuitBreakerState) {
	lm.GetLogger("circuit_breaker").LogCircuitBreakerEvent(name, oldState, newState)
	lm.updateStats("circuit_breaker", slog.LevelWarn)
}

// LogDegradationStateChange logs service degradation state changes
func (lm *LoggingManager) LogDegradationStateChange(component errors.ServiceComponent, oldLevel, newLevel errors.DegradationLevel) {
	lm.GetLogger("degradation").LogDegradationEvent(component, oldLevel, newLevel)
	lm.updateStats("degradation", slog.LevelWarn)
}

// LogMCPRequest logs MCP protocol requests with timing
func (lm *LoggingManager) LogMCPRequest(method string, requestID interface{}, duration time.Duration, success bool, errorMsg string) {
	logger := lm.GetLogger("mcp_protocol")
	if !success && errorMsg != "" {
		logger = logger.WithContext("error_message", errorMsg)
	}

	logger.LogMCPMessage(method, requestID, duration, success)

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	lm.updateStats("mcp_protocol", level)
}

// LogCacheEviction logs a response cache sweep
func (lm *LoggingManager) LogCacheEviction(evicted int, remaining int, duration time.Duration) {
	lm.GetLogger("cache").
		WithContext("evicted_entries", evicted).
		WithContext("remaining_entries", remaining).
		WithContext("duration_ms", duration.Milliseconds()).
		Debug("Cache sweep completed")
	lm.updateStats("cache", slog.LevelDebug)
}

// LogConfigReload logs a configuration reload triggered by a file change
func (lm *LoggingManager) LogConfigReload(path string, changes map[string]interface{}, err error) {
	logger := lm.GetLogger("config_monitor").WithContext("config_file", sanitizeFilePath(path))
	for k, v := range changes {
		logger = logger.WithContext(k, v)
	}

	if err != nil {
		logger.WithError(err).Warn("Configuration reload failed")
		lm.updateStats("config_monitor", slog.LevelWarn)
		return
	}
	logger.Info("Configuration reloaded")
	lm.updateStats("config_monitor", slog.LevelInfo)
}

// LogStartupSequence logs application startup sequence
func (lm *LoggingManager) LogStartupSequence(phase string, details map[string]interface{}, duration time.Duration, success bool) {
	startupDetails := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		startupDetails[k] = v
	}
	startupDetails["duration_ms"] = duration.Milliseconds()
	startupDetails["success"] = success

	lm.GetLogger("startup").LogStartup(phase, startupDetails)

	level := slog.LevelInfo
	if !success {
		level = slog.LevelError
	}
	lm.updateStats("startup", level)
}

// LogShutdownSequence logs application shutdown sequence
func (lm *LoggingManager) LogShutdownSequence(phase string, details map[string]interface{}, duration time.Duration, success bool) {
	shutdownDetails := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		shutdownDetails[k] = v
	}
	shutdownDetails["duration_ms"] = duration.Milliseconds()
	shutdownDetails["success"] = success

	lm.GetLogger("shutdown").LogShutdown(phase, shutdownDetails)

	level := slog.LevelInfo
	if !success {
		level = slog.LevelError
	}
	lm.updateStats("shutdown", level)
}

// updateStats counts entries that pass the level filter
func (lm *LoggingManager) updateStats(component string, level slog.Level) {
	if !lm.shouldLog(level) {
		return
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.stats.TotalMessages++
	lm.stats.MessagesByLevel[level.String()]++
	lm.stats.MessagesByLogger[component]++
	lm.stats.LastLogTime = time.Now()

	if level >= slog.LevelError {
		lm.stats.ErrorCount++
	}
}

// GetStats returns current logging statistics
func (lm *LoggingManager) GetStats() LoggingStats {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	stats := LoggingStats{
		TotalMessages:    lm.stats.TotalMessages,
		ErrorCount:       lm.stats.ErrorCount,
		ToolFailures:     lm.stats.ToolFailures,
		LastLogTime:      lm.stats.LastLogTime,
		MessagesByLevel:  make(map[string]int64, len(lm.stats.MessagesByLevel)),
		MessagesByLogger: make(map[string]int64, len(lm.stats.MessagesByLogger)),
	}

	for k, v := range lm.stats.MessagesByLevel {
		stats.MessagesByLevel[k] = v
	}
	for k, v := range lm.stats.MessagesByLogger {
		stats.MessagesByLogger[k] = v
	}

	return stats
}
