package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/internal/orchestrator"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

// DefaultPollInterval governs how often the handler checks the session row
// for a terminal status, independent of the Resumable Reader's own
// polling. The Live Transport never carries agent data itself.
const DefaultPollInterval = 500 * time.Millisecond

// chatRequest is the wire body for POST /chat.
type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// Handler serves one HTTP endpoint implementing the Live Transport contract
// over Server-Sent Events.
type Handler struct {
	orch              *orchestrator.Orchestrator
	store             store.Store
	log               *slog.Logger
	heartbeatInterval time.Duration
	pollInterval      time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(orch *orchestrator.Orchestrator, st store.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		orch:              orch,
		store:             st,
		log:               log.With("component", "transport"),
		heartbeatInterval: DefaultHeartbeatInterval,
		pollInterval:      DefaultPollInterval,
	}
}

// ServeHTTP opens on invocation, emits session immediately, heartbeats
// while running, and sends exactly one done event before closing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionID, err := h.orch.Start(r.Context(), orchestrator.StartRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	stream, err := New(w, h.heartbeatInterval)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := stream.Session(sessionID); err != nil {
		return
	}

	status := h.awaitTerminal(r.Context(), stream, sessionID)
	_ = stream.DoneEvent(status)
}

// statusForError maps orch.Start's error taxonomy to an HTTP status,
// evaluated before the first SSE event is written.
func statusForError(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// awaitTerminal polls the session row until it leaves StatusRunning (or the
// client disconnects), emitting a heartbeat every heartbeatInterval.
func (h *Handler) awaitTerminal(ctx context.Context, stream *Stream, sessionID string) string {
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return string(model.StatusError)
		case <-heartbeat.C:
			if err := stream.Heartbeat(); err != nil {
				return string(model.StatusError)
			}
		case <-poll.C:
			sess, err := h.store.GetSession(ctx, sessionID)
			if err != nil {
				h.log.Warn("transport: status poll failed", "session_id", sessionID, "error", err)
				continue
			}
			if sess.Status != model.StatusRunning {
				return string(sess.Status)
			}
		}
	}
}
