package agentloop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agents/agentd/internal/provider"
	"github.com/nexus-agents/agentd/pkg/model"
)

// fakeProvider replays a fixed sequence of turns, one []Chunk per Complete call.
type fakeProvider struct {
	turns [][]provider.Chunk
	call  int
}

func (f *fakeProvider) Name() string        { return "fake" }
func (f *fakeProvider) SupportsTools() bool  { return true }

func (f *fakeProvider) Complete(ctx context.Context, req provider.CompletionRequest) (<-chan provider.Chunk, error) {
	if f.call >= len(f.turns) {
		return nil, errors.New("fakeProvider: no more turns scripted")
	}
	turn := f.turns[f.call]
	f.call++

	out := make(chan provider.Chunk, len(turn))
	for _, c := range turn {
		out <- c
	}
	close(out)
	return out, nil
}

// fakeSink records every pushed event type in order.
type fakeSink struct {
	types []model.EventType
}

func (s *fakeSink) Push(typ model.EventType, data model.EventData) {
	s.types = append(s.types, typ)
}

// fakeTools returns a fixed, successful result for every call.
type fakeTools struct {
	invoked []string
}

func (f *fakeTools) Invoke(ctx context.Context, name, callID string, arguments any) model.ToolResult {
	f.invoked = append(f.invoked, name)
	return model.ToolResult{
		CallID:  callID,
		Content: []model.ContentBlock{{Type: model.ContentText, Text: "ok"}},
	}
}

func TestLoop_Run_NoToolCalls(t *testing.T) {
	p := &fakeProvider{turns: [][]provider.Chunk{
		{
			{Text: "hello"},
			{Done: true, Usage: &model.Usage{InputTokens: 10, OutputTokens: 5}},
		},
	}}
	sink := &fakeSink{}
	loop := New(p, &fakeTools{}, Config{}, nil)

	messages, usage, err := loop.Run(context.Background(), sink, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.InputTokens)
	assert.Equal(t, int64(5), usage.OutputTokens)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleAssistant, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Text())

	assert.Contains(t, sink.types, model.EventAgentStart)
	assert.Contains(t, sink.types, model.EventTurnStart)
	assert.Contains(t, sink.types, model.EventMessageEnd)
	assert.Contains(t, sink.types, model.EventTurnEnd)
	assert.Contains(t, sink.types, model.EventAgentEnd)
}

func TestLoop_Run_WithToolCall(t *testing.T) {
	p := &fakeProvider{turns: [][]provider.Chunk{
		{
			{ToolCall: &model.ToolCall{CallID: "c1", ToolName: "search", Arguments: map[string]any{"q": "go"}}},
			{Done: true},
		},
		{
			{Text: "done"},
			{Done: true},
		},
	}}
	tools := &fakeTools{}
	sink := &fakeSink{}
	loop := New(p, tools, Config{}, nil)

	messages, _, err := loop.Run(context.Background(), sink, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, tools.invoked)

	// assistant(tool_call), tool_result, assistant(text)
	require.Len(t, messages, 3)
	assert.Equal(t, model.RoleAssistant, messages[0].Role)
	assert.Equal(t, model.RoleToolResult, messages[1].Role)
	assert.Equal(t, "c1", messages[1].ToolResultFor)
	assert.Equal(t, model.RoleAssistant, messages[2].Role)

	assert.Contains(t, sink.types, model.EventToolExecutionStart)
	assert.Contains(t, sink.types, model.EventToolExecutionEnd)
}

func TestLoop_Run_MaxIterationsExceeded(t *testing.T) {
	turn := []provider.Chunk{
		{ToolCall: &model.ToolCall{CallID: "c1", ToolName: "loop"}},
		{Done: true},
	}
	p := &fakeProvider{turns: [][]provider.Chunk{turn, turn, turn}}
	sink := &fakeSink{}
	loop := New(p, &fakeTools{}, Config{MaxIterations: 2}, nil)

	_, _, err := loop.Run(context.Background(), sink, nil)

	require.Error(t, err)
	var loopErr *LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.ErrorIs(t, loopErr.Cause, ErrMaxIterations)
}

func TestLoop_Run_ContextCancelled(t *testing.T) {
	p := &fakeProvider{}
	sink := &fakeSink{}
	loop := New(p, &fakeTools{}, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := loop.Run(ctx, sink, nil)

	require.Error(t, err)
	var loopErr *LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.ErrorIs(t, loopErr.Cause, context.Canceled)
}

func TestLoop_Run_NoProvider(t *testing.T) {
	loop := New(nil, &fakeTools{}, Config{}, nil)

	_, _, err := loop.Run(context.Background(), &fakeSink{}, nil)

	assert.ErrorIs(t, err, ErrNoProvider)
}
