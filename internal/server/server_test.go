package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/config"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
)

// syncBuffer collects log output written from several goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// pizzaAPI is a minimal stand-in for the Pizza API
type pizzaAPI struct {
	*httptest.Server
	calls atomic.Int32
}

func newPizzaAPI(t *testing.T) *pizzaAPI {
	t.Helper()
	api := &pizzaAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pizzas", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"p1","name":"Margherita"}]`)
	})
	mux.HandleFunc("GET /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Order not found", http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"o1","status":"pending"}`)
	})
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.calls.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(api.Close)
	return api
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.PizzaAPI.BaseURL = baseURL
	cfg.PizzaAPI.RetryAttempts = 0
	cfg.Health.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*PizzaServer, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	s, err := New(context.Background(), Options{
		Config:         cfg,
		LoggingManager: logging.NewLoggingManagerWithWriter(logs),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, logs
}

func connectInMemory(t *testing.T, s *PizzaServer) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.Protocol().MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Transport = "smoke-signals"

	_, err := New(context.Background(), Options{
		Config:         cfg,
		LoggingManager: logging.NewLoggingManagerWithWriter(io.Discard),
	})
	require.Error(t, err)
}

func TestNew_RegistersPizzaTools(t *testing.T) {
	api := newPizzaAPI(t)
	s, logs := newTestServer(t, testConfig(api.URL))

	assert.Equal(t, 9, s.Registry().Len())
	assert.Len(t, s.Protocol().Tools(), 9)
	assert.Contains(t, logs.String(), "server_ready")

	cs := connectInMemory(t, s)
	init := cs.InitializeResult()
	assert.Equal(t, "pizza-mcp", init.ServerInfo.Name)
	assert.Equal(t, "1.0.0", init.ServerInfo.Version)
	assert.Contains(t, init.Instructions, "Pizza tools")

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, s.Registry().Names(), names)
}

func TestToolCall_Success(t *testing.T) {
	api := newPizzaAPI(t)
	s, _ := newTestServer(t, testConfig(api.URL))
	cs := connectInMemory(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_pizzas"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `[{"id":"p1","name":"Margherita"}]`, resultText(t, res))

	res, err = cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "place_order",
		Arguments: map[string]any{
			"userId": "u1",
			"items":  []any{map[string]any{"pizzaId": "p1", "quantity": 2}},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `{"id":"o1","status":"pending"}`, resultText(t, res))

	tools := s.Stats()["tools"].(map[string]interface{})
	assert.EqualValues(t, 2, tools["total_invocations"])
	assert.EqualValues(t, 0, tools["failed_invocations"])
}

func TestToolCall_UpstreamFailureIsErrorResult(t *testing.T) {
	api := newPizzaAPI(t)
	s, logs := newTestServer(t, testConfig(api.URL))
	cs := connectInMemory(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_order_by_id",
		Arguments: map[string]any{"id": "missing"},
	})
	require.NoError(t, err, "handler failures are results, not protocol errors")
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: GET /api/orders/missing failed: 404 Order not found", resultText(t, res))

	out := logs.String()
	assert.Contains(t, out, "Error executing MCP tool: GET /api/orders/missing failed: 404 Order not found")
	assert.Contains(t, out, `"tool":"get_order_by_id"`)

	tools := s.Stats()["tools"].(map[string]interface{})
	assert.EqualValues(t, 1, tools["failed_invocations"])
	assert.EqualValues(t, 1, s.loggingManager.GetStats().ToolFailures)
}

func TestToolCall_InvalidArgumentsNeverReachTheAPI(t *testing.T) {
	api := newPizzaAPI(t)
	s, _ := newTestServer(t, testConfig(api.URL))
	cs := connectInMemory(t, s)

	invalid := []map[string]any{
		{"userId": "u1"},
		{"userId": "u1", "items": []any{}},
		{"userId": "u1", "items": []any{map[string]any{"pizzaId": "p1", "quantity": 50}}},
	}
	for _, args := range invalid {
		_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "place_order", Arguments: args})
		assert.Error(t, err, "%v", args)
	}
	assert.Zero(t, api.calls.Load())
}

func TestToolCall_DebugLogsSanitizedArguments(t *testing.T) {
	api := newPizzaAPI(t)
	cfg := testConfig(api.URL)
	cfg.Logging.Level = "DEBUG"
	s, logs := newTestServer(t, cfg)
	cs := connectInMemory(t, s)

	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_order_by_id",
		Arguments: map[string]any{"id": "o1", "sessionToken": "hunter2"},
	})
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "Tool call received")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "hunter2")
}

func TestToolCall_UnreachableAPI(t *testing.T) {
	api := newPizzaAPI(t)
	url := api.URL
	api.Close()

	s, _ := newTestServer(t, testConfig(url))
	cs := connectInMemory(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_pizzas"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "Error: GET /api/pizzas failed: "))
}

func TestHTTPTransport(t *testing.T) {
	api := newPizzaAPI(t)
	s, _ := newTestServer(t, testConfig(api.URL))

	ts := httptest.NewServer(s.HTTPHandler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + MCPPath}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "get_pizzas"})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"p1","name":"Margherita"}]`, resultText(t, res))
}

func TestHealthz(t *testing.T) {
	api := newPizzaAPI(t)
	s, _ := newTestServer(t, testConfig(api.URL))

	ts := httptest.NewServer(s.HTTPHandler())
	t.Cleanup(ts.Close)

	get := func() (int, map[string]any) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	status, body := get()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "none", strings.ToLower(body["overall_health"].(string)))
	assert.Empty(t, body["unhealthy_breakers"])

	breaker := s.circuitBreakerManager.GetOrCreate("GET /api/pizzas")
	for range 5 {
		_ = breaker.Execute(context.Background(), func(context.Context) error { return assert.AnError })
	}
	_, body = get()
	assert.Equal(t, []any{"GET /api/pizzas"}, body["unhealthy_breakers"])

	for range 3 {
		s.degradationManager.RecordError(errors.ComponentPizzaAPI, assert.AnError)
	}
	status, _ = get()
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestStart_StopsWithContext(t *testing.T) {
	api := newPizzaAPI(t)
	cfg := testConfig(api.URL)
	cfg.Server.Transport = config.TransportHTTP
	cfg.Server.HTTPAddress = "127.0.0.1:0"
	s, _ := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}

func TestShutdown_Idempotent(t *testing.T) {
	api := newPizzaAPI(t)
	s, logs := newTestServer(t, testConfig(api.URL))

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 1, strings.Count(logs.String(), "shutdown_complete"))
}
