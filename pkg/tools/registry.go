package tools

import (
	"fmt"
	"sync"
	"time"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
)

// Registry is the ordered collection of tool descriptors served by the
// process. Name uniqueness is left to the protocol server.
type Registry struct {
	descriptors []Descriptor
	logger      *logging.StructuredLogger
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.StructuredLogger) *Registry {
	return &Registry{logger: logger}
}

// Register appends a descriptor. Registration order is preserved.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s has no handler", d.Name)
	}

	if d.Description == "" {
		r.logger.WithContext("tool", d.Name).
			Warn("Tool registered without description")
	}

	r.mu.Lock()
	r.descriptors = append(r.descriptors, d)
	r.mu.Unlock()

	r.logger.WithContext("tool", d.Name).
		WithContext("has_schema", d.HasSchema()).
		Debug("Tool registered")
	return nil
}

// RegisterAll registers descriptors in order, stopping at the first invalid one
func (r *Registry) RegisterAll(descriptors ...Descriptor) error {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors returns the descriptors in registration order
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Get returns the first descriptor registered under name
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Names returns the tool names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered descriptors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// ToolStats tracks call metrics for tool invocations
type ToolStats struct {
	TotalInvocations     int64
	FailedInvocations    int64
	InvocationsByName    map[string]int64
	FailuresByName       map[string]int64
	TotalExecutionTimeMs int64
	ExecutionTimeByName  map[string]int64
	mu                   sync.RWMutex
}

// NewToolStats creates an empty stats collector
func NewToolStats() *ToolStats {
	return &ToolStats{
		InvocationsByName:   make(map[string]int64),
		FailuresByName:      make(map[string]int64),
		ExecutionTimeByName: make(map[string]int64),
	}
}

// Record counts one finished invocation
func (s *ToolStats) Record(name string, duration time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := duration.Milliseconds()
	s.TotalInvocations++
	s.InvocationsByName[name]++
	s.TotalExecutionTimeMs += ms
	s.ExecutionTimeByName[name] += ms
	if failed {
		s.FailedInvocations++
		s.FailuresByName[name]++
	}
}

// Snapshot returns the metrics as a JSON friendly map
func (s *ToolStats) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_invocations":       s.TotalInvocations,
		"failed_invocations":      s.FailedInvocations,
		"invocations_by_name":     copyCounts(s.InvocationsByName),
		"failures_by_name":        copyCounts(s.FailuresByName),
		"total_execution_time_ms": s.TotalExecutionTimeMs,
		"execution_time_by_name":  copyCounts(s.ExecutionTimeByName),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
