package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agents/agentd/internal/apperr"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Wrap("orchestrator.Start", apperr.ErrNotFound), http.StatusNotFound},
		{apperr.Wrap("orchestrator.Start", apperr.ErrInvalidRequest), http.StatusBadRequest},
		{apperr.Wrap("orchestrator.Start", apperr.ErrConflict), http.StatusConflict},
		{apperr.Wrap("orchestrator.Start", apperr.ErrNotConfigured), http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusForError(c.err))
	}
}

func TestStream_EmitsSessionHeartbeatDone(t *testing.T) {
	w := httptest.NewRecorder()

	stream, err := New(w, 10*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, stream.Session("sess-1"))
	require.NoError(t, stream.Heartbeat())
	require.NoError(t, stream.DoneEvent("completed"))

	body := w.Body.String()
	assert.Contains(t, body, "event: session")
	assert.Contains(t, body, "sess-1")
	assert.Contains(t, body, "event: heartbeat")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, "completed")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

// nonFlushingResponseWriter implements http.ResponseWriter but not
// http.Flusher, since httptest.NewRecorder satisfies both.
type nonFlushingResponseWriter struct {
	rec *httptest.ResponseRecorder
}

func (w *nonFlushingResponseWriter) Header() http.Header         { return w.rec.Header() }
func (w *nonFlushingResponseWriter) Write(b []byte) (int, error) { return w.rec.Write(b) }
func (w *nonFlushingResponseWriter) WriteHeader(code int)        { w.rec.WriteHeader(code) }

func TestNew_RequiresFlusher(t *testing.T) {
	w := &nonFlushingResponseWriter{httptest.NewRecorder()}

	_, err := New(w, 0)
	assert.Error(t, err)
}
