package toolexec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agents/agentd/pkg/model"
)

type stubTool struct {
	name    string
	content []model.ContentBlock
	isError bool
	err     error
	panics  bool
	block   chan struct{}
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Invoke(ctx context.Context, args any) ([]model.ContentBlock, bool, error) {
	if s.panics {
		panic("boom")
	}
	if s.block != nil {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	return s.content, s.isError, s.err
}

func TestExecutor_Invoke_Success(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "echo", content: []model.ContentBlock{{Type: model.ContentText, Text: "hi"}}})
	exec := New(reg, nil, nil)

	result := exec.Invoke(context.Background(), "echo", "call-1", nil)

	require.False(t, result.IsError)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, "hi", result.Content[0].Text)
}

func TestExecutor_Invoke_UnknownTool(t *testing.T) {
	exec := New(NewRegistry(), nil, nil)

	result := exec.Invoke(context.Background(), "missing", "call-2", nil)

	assert.True(t, result.IsError)
	assert.Equal(t, "call-2", result.CallID)
}

func TestExecutor_Invoke_ToolReturnsError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "fails", err: errors.New("bad args")})
	exec := New(reg, nil, nil)

	result := exec.Invoke(context.Background(), "fails", "call-3", nil)

	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "bad args")
}

func TestExecutor_Invoke_Panic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "panics", panics: true})
	exec := New(reg, nil, nil)

	result := exec.Invoke(context.Background(), "panics", "call-4", nil)

	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "panicked")
}

func TestExecutor_Invoke_CancelledContext(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "slow", block: make(chan struct{})})
	exec := New(reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Invoke(ctx, "slow", "call-5", nil)

	assert.True(t, result.IsError)
}
