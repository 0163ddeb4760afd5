package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agents/agentd/internal/agentloop"
	"github.com/nexus-agents/agentd/internal/provider"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

// fakeProvider completes a single turn with no tool calls, immediately.
type fakeProvider struct{}

func (fakeProvider) Name() string       { return "fake" }
func (fakeProvider) SupportsTools() bool { return true }

func (fakeProvider) Complete(ctx context.Context, req provider.CompletionRequest) (<-chan provider.Chunk, error) {
	out := make(chan provider.Chunk, 2)
	out <- provider.Chunk{Text: "hi"}
	out <- provider.Chunk{Done: true}
	close(out)
	return out, nil
}

func newTestOrchestrator(t *testing.T, s store.Store) *Orchestrator {
	t.Helper()
	n := 0
	return New(Config{
		Store: s,
		LoopFactory: func(sessionID string) *agentloop.Loop {
			return agentloop.New(fakeProvider{}, nil, agentloop.Config{}, nil)
		},
		IDGenerator: func() string {
			n++
			return "sess-fixed"
		},
		AbortCheckInterval: time.Millisecond,
	})
}

func waitTerminal(t *testing.T, s store.Store, sessionID string) *model.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := s.GetSession(context.Background(), sessionID)
		require.NoError(t, err)
		if sess.Status != model.StatusRunning {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal status")
	return nil
}

func TestOrchestrator_Start_NewSessionCompletes(t *testing.T) {
	s := store.NewMemoryStore()
	o := newTestOrchestrator(t, s)

	sessionID, err := o.Start(context.Background(), StartRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "sess-fixed", sessionID)

	sess := waitTerminal(t, s, sessionID)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	require.Len(t, sess.Response, 2) // user message + assistant reply
}

func TestOrchestrator_Start_RejectsConcurrentContinuation(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{
		ID:        "sess-running",
		Status:    model.StatusRunning,
		CreatedAt: time.Now(),
	}))
	o := newTestOrchestrator(t, s)

	_, err := o.Start(context.Background(), StartRequest{SessionID: "sess-running", Text: "again"})

	require.Error(t, err)
}

func TestOrchestrator_Abort_TransitionsRunningSession(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{
		ID:        "sess-abort",
		Status:    model.StatusRunning,
		CreatedAt: time.Now(),
	}))
	o := newTestOrchestrator(t, s)

	require.NoError(t, o.Abort(context.Background(), "sess-abort"))

	sess, err := s.GetSession(context.Background(), "sess-abort")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sess.Status)

	events, err := s.ListEvents(context.Background(), "sess-abort", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSessionAborted, events[0].Type)
}

func TestOrchestrator_Abort_NoopWhenNotRunning(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{
		ID:        "sess-done",
		Status:    model.StatusCompleted,
		CreatedAt: time.Now(),
	}))
	o := newTestOrchestrator(t, s)

	require.NoError(t, o.Abort(context.Background(), "sess-done"))

	events, err := s.ListEvents(context.Background(), "sess-done", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReconstruct_RoundTripsUserAssistantToolResult(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{
		ID:        "sess-hist",
		Status:    model.StatusRunning,
		CreatedAt: time.Now(),
	}))

	userMsg := model.Message{Role: model.RoleUser, Content: []model.ContentBlock{{Type: model.ContentText, Text: "q"}}}
	_, err := s.Append(context.Background(), "sess-hist", model.EventUserMessage, model.EventData{Message: &userMsg})
	require.NoError(t, err)

	assistantMsg := model.Message{Role: model.RoleAssistant, Content: []model.ContentBlock{
		{Type: model.ContentToolCall, ToolCall: &model.ToolCall{CallID: "c1", ToolName: "search"}},
	}}
	_, err = s.Append(context.Background(), "sess-hist", model.EventMessageEnd, model.EventData{Message: &assistantMsg})
	require.NoError(t, err)

	_, err = s.Append(context.Background(), "sess-hist", model.EventTurnEnd, model.EventData{
		ToolResults: []model.ToolResult{{CallID: "c1", Content: []model.ContentBlock{{Type: model.ContentText, Text: "result"}}}},
	})
	require.NoError(t, err)

	history, err := Reconstruct(context.Background(), s, "sess-hist")

	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, model.RoleToolResult, history[2].Role)
	assert.Equal(t, "c1", history[2].ToolResultFor)
}
