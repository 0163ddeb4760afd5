// Package store implements the Event Log Store: append-only persistence
// of (session_id, monotonic event_id, type, data, created_at) plus a
// session row carrying lifecycle status.
package store

import (
	"context"
	"time"

	"github.com/nexus-agents/agentd/pkg/model"
)

// StatusExtras carries the optional fields SetStatus may update alongside
// status, mirroring the session row's terminal-write fields.
type StatusExtras struct {
	Response       []model.Message
	Usage          *model.Usage
	ErrorMessage   string
	EventCount     *int64
	ClearCompleted bool // true on completed -> running re-entry
	CompletedNow   bool // true when transitioning into a terminal status
}

// ListOptions configures ListSessions paging.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the Event Log Store contract.
//
// Implementations MUST serialize appends per session sufficiently to keep
// event_id monotonic and append-order equal to emission-order when
// combined with the single-writer guarantee the Event Queue provides.
type Store interface {
	// Append persists one event and returns its assigned monotonic id.
	// Implementations must never persist a transient event type.
	Append(ctx context.Context, sessionID string, typ model.EventType, data model.EventData) (int64, error)

	// ListEvents returns every event with id > afterID, ordered ascending.
	// Returns an empty slice (never an error) when caught up.
	ListEvents(ctx context.Context, sessionID string, afterID int64) ([]model.Event, error)

	// GetSession fetches a session row. Returns apperr.ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// CreateSession inserts a new session row with the status carried on s.
	CreateSession(ctx context.Context, s *model.Session) error

	// SetStatus transitions a session's status and optionally updates the
	// extras carried alongside it (response, usage, event_count, error).
	SetStatus(ctx context.Context, id string, status model.SessionStatus, extras StatusExtras) error

	// ListSessions returns session summaries newest first.
	ListSessions(ctx context.Context, opts ListOptions) ([]model.Session, error)
}

// clock is overridable in tests.
var nowFunc = time.Now
