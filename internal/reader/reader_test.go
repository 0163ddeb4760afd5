package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

func newSession(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{
		ID:        id,
		Status:    model.StatusRunning,
		CreatedAt: time.Now(),
	}))
}

func TestReader_List_ReturnsImmediatelyWhenEventsExist(t *testing.T) {
	s := store.NewMemoryStore()
	newSession(t, s, "sess-1")
	_, err := s.Append(context.Background(), "sess-1", model.EventAgentStart, model.EventData{})
	require.NoError(t, err)

	r := New(s, Config{LongPollTimeout: 50 * time.Millisecond, LongPollInterval: 5 * time.Millisecond})

	result, err := r.List(context.Background(), "sess-1", 0)

	require.NoError(t, err)
	assert.Len(t, result.Events, 1)
	assert.Equal(t, model.StatusRunning, result.Status)
}

func TestReader_List_ReturnsImmediatelyWhenNotRunning(t *testing.T) {
	s := store.NewMemoryStore()
	newSession(t, s, "sess-1")
	require.NoError(t, s.SetStatus(context.Background(), "sess-1", model.StatusCompleted, store.StatusExtras{CompletedNow: true}))

	r := New(s, Config{LongPollTimeout: 50 * time.Millisecond, LongPollInterval: 5 * time.Millisecond})

	result, err := r.List(context.Background(), "sess-1", 0)

	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, model.StatusCompleted, result.Status)
}

func TestReader_List_TimesOutStillRunning(t *testing.T) {
	s := store.NewMemoryStore()
	newSession(t, s, "sess-1")

	r := New(s, Config{LongPollTimeout: 30 * time.Millisecond, LongPollInterval: 5 * time.Millisecond})

	result, err := r.List(context.Background(), "sess-1", 0)

	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, model.StatusRunning, result.Status)
}

func TestReader_List_MarksStaleSessionAsError(t *testing.T) {
	s := store.NewMemoryStore()
	newSession(t, s, "sess-1")

	r := New(s, Config{StaleSessionMax: time.Minute, LongPollTimeout: 30 * time.Millisecond, LongPollInterval: 5 * time.Millisecond})
	r.SetNowFunc(func() time.Time { return time.Now().Add(2 * time.Hour) })

	result, err := r.List(context.Background(), "sess-1", 0)

	require.NoError(t, err)
	assert.Equal(t, model.StatusError, result.Status)

	sess, err := s.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, sess.Status)
	assert.Equal(t, "timed out", sess.Error)
}

func TestReader_List_ActivatedAtResetsStaleness(t *testing.T) {
	s := store.NewMemoryStore()
	newSession(t, s, "sess-1")
	require.NoError(t, s.SetStatus(context.Background(), "sess-1", model.StatusCompleted, store.StatusExtras{CompletedNow: true}))
	// Re-enter running: ActivatedAt resets even though CreatedAt is old.
	require.NoError(t, s.SetStatus(context.Background(), "sess-1", model.StatusRunning, store.StatusExtras{ClearCompleted: true}))

	r := New(s, Config{StaleSessionMax: time.Hour, LongPollTimeout: 20 * time.Millisecond, LongPollInterval: 5 * time.Millisecond})

	result, err := r.List(context.Background(), "sess-1", 0)

	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, result.Status)
}

func TestReader_List_ContextCancelledDuringLongPoll(t *testing.T) {
	s := store.NewMemoryStore()
	newSession(t, s, "sess-1")

	r := New(s, Config{LongPollTimeout: time.Second, LongPollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.List(ctx, "sess-1", 0)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
