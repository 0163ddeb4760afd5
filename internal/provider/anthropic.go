package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/pkg/model"
)

// maxEmptyStreamEvents bounds how many consecutive events carry no chunk
// before the stream is declared malformed, guarding against a flood of
// events that would otherwise spin this goroutine forever.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicProvider implements LLMProvider against Anthropic's Messages API:
// streaming with exponential backoff retry, narrowed to the
// tool-call/text/usage vocabulary this orchestrator needs (no computer-use
// beta, no extended thinking).
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewAnthropicProvider validates config and builds an AnthropicProvider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Wrap("provider.NewAnthropicProvider", apperr.ErrNotConfigured)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool  { return true }

func (p *AnthropicProvider) getModel(m string) string {
	if m == "" {
		return p.defaultModel
	}
	return m
}

func (p *AnthropicProvider) getMaxTokens(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

// Complete streams a completion for req, retrying transient failures with
// exponential backoff before the stream starts. Once events are flowing, a
// server-side error ends the stream rather than retrying — partial
// responses are never silently replayed.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryableError(err) {
				out <- Chunk{Err: fmt.Errorf("anthropic: %w: %w", apperr.ErrModel, err)}
				return
			}
			if attempt == p.maxRetries {
				break
			}
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				out <- Chunk{Err: fmt.Errorf("anthropic: %w: %w", apperr.ErrCancelled, ctx.Err())}
				return
			case <-time.After(backoff):
			}
		}
		if err != nil {
			out <- Chunk{Err: fmt.Errorf("anthropic: max retries exceeded: %w: %w", apperr.ErrModel, err)}
			return
		}

		p.processStream(stream, out)
	}()

	return out, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}

	// NewStreaming sends the request eagerly and carries any request failure
	// in the stream's error; surface it so Complete can retry it.
	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return stream, nil
}

// processStream drains stream into out: message_start carries input
// tokens, content_block_start/delta/stop assemble text and tool_use
// blocks, message_delta carries output tokens, message_stop ends the turn.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- Chunk) {
	var currentCall *model.ToolCall
	var currentInput strings.Builder
	var usage model.Usage
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = ms.Message.Usage.InputTokens
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				currentCall = &model.ToolCall{CallID: tu.ID, ToolName: tu.Name}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- Chunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				var args any
				if s := currentInput.String(); s != "" {
					_ = json.Unmarshal([]byte(s), &args)
				}
				currentCall.Arguments = args
				out <- Chunk{ToolCall: currentCall}
				currentCall = nil
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = md.Usage.OutputTokens
			}
			processed = true

		case "message_stop":
			u := usage
			out <- Chunk{Done: true, Usage: &u}
			return

		case "error":
			out <- Chunk{Err: fmt.Errorf("anthropic: stream error: %w", apperr.ErrModel), Done: true}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out <- Chunk{Err: fmt.Errorf("anthropic: stream appears malformed after %d empty events: %w", emptyEvents, apperr.ErrModel), Done: true}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out <- Chunk{Err: fmt.Errorf("anthropic: %w: %w", apperr.ErrModel, err), Done: true}
	}
}

func convertMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case model.ContentText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case model.ContentToolCall:
				if block.ToolCall == nil {
					continue
				}
				args, ok := block.ToolCall.Arguments.(map[string]any)
				if !ok {
					args = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ToolCall.CallID, args, block.ToolCall.ToolName))
			}
		}
		if msg.Role == model.RoleToolResult {
			text := msg.Text()
			content = append(content, anthropic.NewToolResultBlock(msg.ToolResultFor, text, false))
		}

		if msg.Role == model.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
