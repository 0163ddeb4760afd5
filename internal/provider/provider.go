// Package provider defines the model-backend contract the Agent Loop drives,
// and an Anthropic-backed implementation.
package provider

import (
	"context"

	"github.com/nexus-agents/agentd/pkg/model"
)

// CompletionRequest is one call to the model: the running conversation, the
// tool set it may invoke, and generation parameters.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []model.Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec describes one callable tool to the model (name, purpose, and the
// JSON schema of its arguments). The Agent Loop sends the list set in its
// Config.Tools unchanged; it is not derived from the Tool Executor's
// registry.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Chunk is one element of a streamed completion.
type Chunk struct {
	Text     string
	ToolCall *model.ToolCall
	Usage    *model.Usage
	Done     bool
	Err      error
}

// LLMProvider is the Agent Loop's only dependency on a concrete model
// backend. Implementations must be safe for concurrent use across sessions.
type LLMProvider interface {
	// Complete streams a response to req. The returned channel is closed
	// once the response is done or ctx is cancelled; the final chunk before
	// closing carries Done=true or a non-nil Err.
	Complete(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
	Name() string
	SupportsTools() bool
}
