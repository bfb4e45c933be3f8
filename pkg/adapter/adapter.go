// Package adapter registers tool descriptors with an MCP protocol server and
// turns every handler outcome into a response envelope.
//
// Each descriptor gets exactly one registration call, in registry order. A
// descriptor without a schema is registered as a zero-argument tool; one with
// a schema is registered with its field shape so the server validates
// arguments before the callback runs. Handler failures, returned or panicked,
// never leave the adapter: they are reported on the diagnostic channel and
// returned as an error-flagged envelope.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/tools"
)

// DiagnosticPrefix starts every diagnostic line emitted for a failed tool call
const DiagnosticPrefix = "Error executing MCP tool: "

// NoArgsCallback serves a tool that declares no input schema
type NoArgsCallback func(ctx context.Context) (*Envelope, error)

// ShapeCallback serves a tool with declared fields. args has already been
// validated against the shape by the server.
type ShapeCallback func(ctx context.Context, args tools.Arguments) (*Envelope, error)

// ToolServer is the registration surface of the protocol server
type ToolServer interface {
	AddTool(name, description string, callback NoArgsCallback) error
	AddToolWithShape(name, description string, shape tools.Shape, callback ShapeCallback) error
}

// Reporter receives the failure message of every failed invocation
type Reporter func(ctx context.Context, tool, message string)

// Adapter turns descriptors into protocol registrations. It holds no state
// that changes after construction.
type Adapter struct {
	report Reporter
	tracer trace.Tracer
}

// Option configures an Adapter
type Option func(*Adapter)

// WithReporter sets the diagnostic sink for failed invocations
func WithReporter(report Reporter) Option {
	return func(a *Adapter) {
		if report != nil {
			a.report = report
		}
	}
}

// WithTracer records one span per invocation
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Adapter) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// New creates an Adapter. Without WithReporter failures go to the default slog logger.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		report: defaultReporter,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func defaultReporter(ctx context.Context, tool, message string) {
	slog.Default().ErrorContext(ctx, DiagnosticPrefix+message,
		"tool", tool,
		"error_message", message)
}

type variant int

const (
	variantNoArgs variant = iota
	variantWithShape
)

func variantOf(d tools.Descriptor) variant {
	if d.HasSchema() {
		return variantWithShape
	}
	return variantNoArgs
}

// RegisterAll makes one registration call per descriptor, in order. Errors
// from the server do not stop later registrations; they are joined and returned.
func (a *Adapter) RegisterAll(server ToolServer, descriptors []tools.Descriptor) error {
	var errs []error
	for _, d := range descriptors {
		var err error
		switch variantOf(d) {
		case variantWithShape:
			err = server.AddToolWithShape(d.Name, d.Description, d.Schema.Shape(), a.withShape(d))
		default:
			err = server.AddTool(d.Name, d.Description, a.noArgs(d))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("register tool %s: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Register registers every descriptor of the registry
func (a *Adapter) Register(server ToolServer, registry *tools.Registry) error {
	return a.RegisterAll(server, registry.Descriptors())
}

func (a *Adapter) noArgs(d tools.Descriptor) NoArgsCallback {
	return func(ctx context.Context) (*Envelope, error) {
		return a.invoke(ctx, d.Name, d.Handler, nil), nil
	}
}

func (a *Adapter) withShape(d tools.Descriptor) ShapeCallback {
	return func(ctx context.Context, args tools.Arguments) (*Envelope, error) {
		return a.invoke(ctx, d.Name, d.Handler, args), nil
	}
}

// invoke runs the handler and never fails
func (a *Adapter) invoke(ctx context.Context, name string, handler tools.Handler, args tools.Arguments) *Envelope {
	ctx, span := a.tracer.Start(ctx, "tool "+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mcp.tool.name", name),
			attribute.Int("mcp.tool.argument_count", len(args)),
		))
	defer span.End()

	text, message, failed := call(ctx, handler, args)
	if !failed {
		span.SetStatus(codes.Ok, "")
		return successEnvelope(text)
	}

	span.SetStatus(codes.Error, message)
	span.SetAttributes(attribute.Bool("mcp.tool.is_error", true))
	a.report(ctx, name, message)
	return failureEnvelope(message)
}

// call runs the handler and extracts the failure message under the same
// recover, so a panicking Error method is a failure like any other.
// fmt.Sprint guards against recovered values whose Error or String panics.
func call(ctx context.Context, handler tools.Handler, args tools.Arguments) (text, message string, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			text, message, failed = "", fmt.Sprint(r), true
		}
	}()

	text, err := handler(ctx, args)
	if err != nil {
		return "", err.Error(), true
	}
	return text, "", false
}
