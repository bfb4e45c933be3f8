package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
)

// MCPPath is where the streamable HTTP transport is mounted
const MCPPath = "/mcp"

const httpShutdownTimeout = 5 * time.Second

// serveStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects
func (s *PizzaServer) serveStdio(ctx context.Context) error {
	err := s.protocol.MCP().Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// serveHTTP serves the streamable HTTP transport until ctx is done
func (s *PizzaServer) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.WithContext("address", addr).WithContext("path", MCPPath).Info("HTTP transport listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.NewSystemError(errors.ErrCodeInitializationFailed, "HTTP transport failed", err).
			WithContext("address", addr)
	}
}

// HTTPHandler routes the MCP endpoint and a health endpoint
func (s *PizzaServer) HTTPHandler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.protocol.MCP()
	}, nil)

	mux := http.NewServeMux()
	mux.Handle(MCPPath, mcpHandler)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// handleHealthz reports 503 once any component is at major degradation or worse
func (s *PizzaServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	overall := s.degradationManager.GetOverallHealth()
	status := http.StatusOK
	if overall >= errors.DegradationMajor {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.logger.WithError(err).Warn("Failed to encode health response")
	}
}
