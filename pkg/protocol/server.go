// Package protocol implements the tool registration surface on top of the
// MCP Go SDK server.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/adapter"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/tools"
)

// Options identifies the server to clients
type Options struct {
	Name         string
	Title        string
	Version      string
	Instructions string
	Logger       *slog.Logger
}

// Server adapts an mcp.Server to the adapter's ToolServer interface. Tool
// names are unique per server.
type Server struct {
	mcp   *mcp.Server
	tools []*mcp.Tool
	names map[string]struct{}
	mu    sync.Mutex
}

var _ adapter.ToolServer = (*Server)(nil)

// NewServer creates a protocol server with the given identity
func NewServer(opts Options) *Server {
	impl := &mcp.Implementation{
		Name:    opts.Name,
		Title:   opts.Title,
		Version: opts.Version,
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{
		Instructions: opts.Instructions,
		Logger:       opts.Logger,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: true},
		},
	})

	return &Server{
		mcp:   server,
		names: make(map[string]struct{}),
	}
}

// MCP returns the underlying SDK server
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Tools returns the registered tool definitions in registration order
func (s *Server) Tools() []*mcp.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*mcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// AddTool registers a tool that takes no arguments. Any arguments sent by
// the client are ignored.
func (s *Server) AddTool(name, description string, callback adapter.NoArgsCallback) error {
	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}

	return s.add(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env, err := callback(ctx)
		if err != nil {
			return nil, err
		}
		return toResult(env), nil
	})
}

// AddToolWithShape registers a tool whose arguments are validated against
// shape before callback runs. Invalid arguments are answered with an
// invalid-params protocol error and the callback is not invoked.
func (s *Server) AddToolWithShape(name, description string, shape tools.Shape, callback adapter.ShapeCallback) error {
	schema := shape.ObjectSchema()
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidSchema,
			fmt.Sprintf("input schema for tool %s does not resolve", name), err).
			WithContext("tool", name)
	}

	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}

	return s.add(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeMalformedParams,
				fmt.Sprintf("arguments for tool %s are not a JSON object", name), err).
				WithDetails(err.Error()).
				WithContext("tool", name).
				ToProtocolError()
		}

		if err := resolved.Validate(map[string]any(args)); err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidParams,
				fmt.Sprintf("invalid arguments for tool %s: %v", name, err), err).
				WithContext("tool", name).
				ToProtocolError()
		}

		env, err := callback(ctx, args)
		if err != nil {
			return nil, err
		}
		return toResult(env), nil
	})
}

func (s *Server) add(tool *mcp.Tool, handler mcp.ToolHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[tool.Name]; exists {
		return errors.NewProtocolError(errors.ErrCodeDuplicateTool,
			fmt.Sprintf("tool %s already registered", tool.Name), nil).
			WithContext("tool", tool.Name)
	}

	s.mcp.AddTool(tool, handler)
	s.names[tool.Name] = struct{}{}
	s.tools = append(s.tools, tool)
	return nil
}

// decodeArguments turns the raw arguments into a record. Missing or null
// arguments decode to an empty record.
func decodeArguments(raw json.RawMessage) (tools.Arguments, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return tools.Arguments{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, err
	}
	return tools.Arguments(args), nil
}

func toResult(env *adapter.Envelope) *mcp.CallToolResult {
	result := &mcp.CallToolResult{Content: []mcp.Content{}}
	if env == nil {
		return result
	}

	for _, c := range env.Content {
		result.Content = append(result.Content, &mcp.TextContent{Text: c.Text})
	}
	result.IsError = env.IsError
	return result
}
