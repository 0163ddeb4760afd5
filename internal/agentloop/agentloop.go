// Package agentloop implements the Agent Loop: the model/tool state
// machine that drives one session run to completion, with an
// Init/Stream/ExecuteTools/Continue/Complete phase progression and
// streamed response-chunk reporting. Tool dispatch is serial by default.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/internal/provider"
	"github.com/nexus-agents/agentd/pkg/model"
)

// Sentinel errors surfaced by Run.
var (
	ErrNoProvider     = errors.New("agentloop: no provider configured")
	ErrMaxIterations  = errors.New("agentloop: max iterations exceeded")
	ErrMaxToolCalls   = errors.New("agentloop: max tool calls exceeded")
)

// Phase names the loop's current state.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseContinue     Phase = "continue"
	PhaseComplete     Phase = "complete"
)

// EventSink receives lifecycle events in emission order. queue.Queue
// satisfies this directly; it is the only coupling between the Agent Loop
// and the Event Queue.
type EventSink interface {
	Push(typ model.EventType, data model.EventData)
}

// ToolInvoker executes one tool call and never returns a Go error — every
// failure mode is folded into the returned ToolResult. toolexec.Executor
// satisfies this.
type ToolInvoker interface {
	Invoke(ctx context.Context, name, callID string, arguments any) model.ToolResult
}

// LoopError wraps a failure with the phase and iteration it occurred in.
type LoopError struct {
	Phase     Phase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agentloop: phase=%s iteration=%d: %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// Config configures one Loop. Tool-call concurrency is intentionally not
// configurable to "concurrent" by default: serial execution is used
// unless a tool schema declares independence, which this module does not
// yet expose.
type Config struct {
	Model         string
	System        string
	MaxTokens     int
	MaxIterations int
	MaxToolCalls  int
	MaxWallTime   time.Duration
	Tools         []provider.ToolSpec
}

// DefaultConfig returns this module's baseline limits.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     4096,
		MaxIterations: 10,
	}
}

// Loop runs the model/tool state machine for a single session turn-chain.
type Loop struct {
	provider provider.LLMProvider
	tools    ToolInvoker
	cfg      Config
	log      *slog.Logger
}

// New constructs a Loop. cfg's zero-valued numeric fields fall back to
// DefaultConfig.
func New(p provider.LLMProvider, tools ToolInvoker, cfg Config, log *slog.Logger) *Loop {
	defaults := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{provider: p, tools: tools, cfg: cfg, log: log.With("component", "agentloop")}
}

// Run drives the loop to completion starting from history, pushing every
// non-transient event into sink as it is emitted, and returning the full
// message list (history followed by the messages produced this run) plus
// the usage accumulated across all turns of this run.
//
// Run returns when the model produces a turn with no tool calls (success),
// ctx is cancelled (external abort — the caller is responsible for
// cancelling ctx once the Event Queue's abort poll fires), or a limit is
// exceeded or the provider fails (error).
func (l *Loop) Run(ctx context.Context, sink EventSink, history []model.Message) ([]model.Message, model.Usage, error) {
	if l.provider == nil {
		return nil, model.Usage{}, ErrNoProvider
	}

	runCtx := ctx
	if l.cfg.MaxWallTime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.cfg.MaxWallTime)
		defer cancel()
	}

	messages := append([]model.Message(nil), history...)
	var usage model.Usage
	var totalToolCalls int

	sink.Push(model.EventAgentStart, model.EventData{})

	for iteration := 0; ; iteration++ {
		if err := runCtx.Err(); err != nil {
			sink.Push(model.EventAgentEnd, model.EventData{})
			return messages, usage, &LoopError{Phase: PhaseInit, Iteration: iteration, Cause: fmt.Errorf("%w: %w", apperr.ErrCancelled, err)}
		}
		if iteration >= l.cfg.MaxIterations {
			sink.Push(model.EventAgentEnd, model.EventData{})
			return messages, usage, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: ErrMaxIterations}
		}

		sink.Push(model.EventTurnStart, model.EventData{})

		assistantMsg, turnUsage, err := l.streamTurn(runCtx, sink, messages)
		if err != nil {
			sink.Push(model.EventAgentEnd, model.EventData{})
			return messages, usage, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}
		usage.InputTokens += turnUsage.InputTokens
		usage.OutputTokens += turnUsage.OutputTokens

		sink.Push(model.EventMessageEnd, model.EventData{Message: &assistantMsg})
		messages = append(messages, assistantMsg)

		toolCalls := assistantMsg.ToolCalls()
		if len(toolCalls) == 0 {
			sink.Push(model.EventTurnEnd, model.EventData{ToolResults: nil})
			sink.Push(model.EventAgentEnd, model.EventData{})
			return messages, usage, nil
		}

		if l.cfg.MaxToolCalls > 0 && totalToolCalls+len(toolCalls) > l.cfg.MaxToolCalls {
			sink.Push(model.EventAgentEnd, model.EventData{})
			return messages, usage, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: ErrMaxToolCalls}
		}
		totalToolCalls += len(toolCalls)

		results := l.executeTools(runCtx, sink, toolCalls)
		for _, res := range results {
			messages = append(messages, toolResultMessage(res))
		}

		sink.Push(model.EventTurnEnd, model.EventData{Message: &assistantMsg, ToolResults: results})
	}
}

// streamTurn calls the model once and accumulates its streamed response
// into a single assistant Message, emitting message_start/message_update
// (transient) as chunks arrive.
func (l *Loop) streamTurn(ctx context.Context, sink EventSink, messages []model.Message) (model.Message, model.Usage, error) {
	req := provider.CompletionRequest{
		Model:     l.cfg.Model,
		System:    l.cfg.System,
		Messages:  messages,
		Tools:     l.cfg.Tools,
		MaxTokens: l.cfg.MaxTokens,
	}
	chunks, err := l.provider.Complete(ctx, req)
	if err != nil {
		return model.Message{}, model.Usage{}, err
	}

	var text strings.Builder
	var toolCalls []model.ToolCall
	var usage model.Usage
	started := false

	for chunk := range chunks {
		if chunk.Err != nil {
			return model.Message{}, usage, chunk.Err
		}
		if !started {
			sink.Push(model.EventMessageStart, model.EventData{})
			started = true
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			sink.Push(model.EventMessageUpdate, model.EventData{Text: chunk.Text})
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}

	msg := model.Message{
		Role:      model.RoleAssistant,
		Timestamp: time.Now(),
		Usage:     &usage,
	}
	if text.Len() > 0 {
		msg.Content = append(msg.Content, model.ContentBlock{Type: model.ContentText, Text: text.String()})
	}
	for i := range toolCalls {
		msg.Content = append(msg.Content, model.ContentBlock{Type: model.ContentToolCall, ToolCall: &toolCalls[i]})
	}
	return msg, usage, nil
}

// executeTools dispatches every call serially, preserving order so the
// returned slice, and the tool_result messages derived from it, line up
// call-for-call with toolCalls.
func (l *Loop) executeTools(ctx context.Context, sink EventSink, toolCalls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(toolCalls))
	for i, call := range toolCalls {
		sink.Push(model.EventToolExecutionStart, model.EventData{
			ToolName: call.ToolName,
			CallID:   call.CallID,
			Args:     call.Arguments,
		})

		result := l.tools.Invoke(ctx, call.ToolName, call.CallID, call.Arguments)
		results[i] = result

		sink.Push(model.EventToolExecutionEnd, model.EventData{
			ToolName: call.ToolName,
			CallID:   call.CallID,
			IsError:  result.IsError,
			Result:   resultText(result),
		})
	}
	return results
}

func resultText(r model.ToolResult) string {
	var out strings.Builder
	for _, c := range r.Content {
		if c.Type == model.ContentText {
			out.WriteString(c.Text)
		}
	}
	return out.String()
}

func toolResultMessage(r model.ToolResult) model.Message {
	return model.Message{
		Role:          model.RoleToolResult,
		Content:       r.Content,
		Timestamp:     time.Now(),
		ToolResultFor: r.CallID,
	}
}
