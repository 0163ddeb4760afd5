// Package toolexec implements the tool executor: invokes a tool by name
// with typed arguments, propagates cancellation, and converts thrown
// failures into tool-result messages the model can see.
//
// The executor itself holds no tool state, only references to instances
// the orchestrator constructs.
package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-agents/agentd/internal/metrics"
	"github.com/nexus-agents/agentd/pkg/model"
)

// Tool is an externally-implemented capability invoked by the model via a
// structured call. Individual tools (virtual filesystem, command
// interpreter, repo-mount, HTTP fetch) are out of core scope; only this
// contract matters here.
type Tool interface {
	Name() string
	// Invoke runs the tool with the given arguments. Invoke must return
	// promptly once ctx is cancelled; it must never panic across this
	// boundary in a way that escapes the Executor (the Executor recovers
	// regardless, but well-behaved tools check ctx themselves).
	Invoke(ctx context.Context, args any) (content []model.ContentBlock, isError bool, err error)
}

// Registry is a name -> Tool lookup backed by a plain map; Register and
// Get take no lock.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Executor invokes tools by name, converting any failure (unknown tool,
// cancellation, panic, or returned error) into an ordinary ToolResult. No
// other layer translates tool failures.
type Executor struct {
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Registry
}

// New creates an Executor bound to registry.
func New(registry *Registry, log *slog.Logger, m *metrics.Registry) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{registry: registry, log: log.With("component", "toolexec"), metrics: m}
}

// Invoke runs tool name with arguments, honoring cancel. It never returns a
// Go error: every failure mode is represented as an is_error ToolResult.
func (e *Executor) Invoke(ctx context.Context, name, callID string, arguments any) model.ToolResult {
	start := time.Now()
	result := e.invoke(ctx, name, arguments)
	result.CallID = callID

	if e.metrics != nil {
		e.metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if result.IsError {
			e.metrics.ToolFailures.WithLabelValues(name).Inc()
		}
	}
	return result
}

func (e *Executor) invoke(ctx context.Context, name string, arguments any) (result model.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool panicked", "tool", name, "panic", r)
			result = errorResult(fmt.Sprintf("tool %q panicked: %v", name, r))
		}
	}()

	if ctx.Err() != nil {
		return errorResultf("aborted")
	}

	tool, ok := e.registry.Get(name)
	if !ok {
		return errorResult("unknown tool")
	}

	content, isError, err := tool.Invoke(ctx, arguments)
	if ctx.Err() != nil {
		// Cancellation raced the tool's own completion; report aborted
		// regardless of what the tool returned.
		return errorResultf("aborted")
	}
	if err != nil {
		e.log.Warn("tool returned error", "tool", name, "error", err)
		return errorResult(err.Error())
	}
	return model.ToolResult{Content: content, IsError: isError}
}

func errorResult(msg string) model.ToolResult {
	return model.ToolResult{
		IsError: true,
		Content: []model.ContentBlock{{Type: model.ContentText, Text: msg}},
	}
}

func errorResultf(reason string) model.ToolResult {
	return errorResult(reason)
}
