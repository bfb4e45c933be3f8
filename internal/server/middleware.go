package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/tools"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/validation"
)

// requestLogging logs every incoming MCP request and counts tool calls.
// A tool call counts as failed when it is rejected or returns an error result.
func requestLogging(lm *logging.LoggingManager, stats *tools.ToolStats) mcp.Middleware {
	logger := lm.GetLogger("mcp")

	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if call, ok := req.(*mcp.CallToolRequest); ok && call.Params != nil && logger.Enabled(slog.LevelDebug) {
				logToolArguments(logger, call.Params.Name, call.Params.Arguments)
			}

			start := time.Now()
			result, err := next(ctx, method, req)
			duration := time.Since(start)

			var errorMsg string
			if err != nil {
				errorMsg = err.Error()
			}

			logged := method
			if call, ok := req.(*mcp.CallToolRequest); ok && call.Params != nil {
				failed := err != nil
				if res, ok := result.(*mcp.CallToolResult); ok && res != nil && res.IsError {
					failed = true
				}
				stats.Record(call.Params.Name, duration, failed)
				logged = method + " " + call.Params.Name
			}

			lm.LogMCPRequest(logged, sessionID(req), duration, err == nil, errorMsg)
			return result, err
		}
	}
}

// logToolArguments logs the call's arguments with secrets redacted
func logToolArguments(logger *logging.StructuredLogger, tool string, raw json.RawMessage) {
	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return
		}
	}
	logger.WithContext("tool", tool).
		WithContext("arguments", validation.SanitizeArguments(args)).
		Debug("Tool call received")
}

func sessionID(req mcp.Request) string {
	if req == nil {
		return ""
	}
	if session := req.GetSession(); session != nil {
		return session.ID()
	}
	return ""
}
