package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/pkg/model"
)

// MemoryStore is an in-process Store used by tests and single-process
// dev-mode deployments.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	events   map[string][]model.Event
	nextID   map[string]int64
	order    []string
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		events:   make(map[string][]model.Event),
		nextID:   make(map[string]int64),
	}
}

func cloneSession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Response != nil {
		cp.Response = append([]model.Message(nil), s.Response...)
	}
	if s.Usage != nil {
		u := *s.Usage
		cp.Usage = &u
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, sessionID string, typ model.EventType, data model.EventData) (int64, error) {
	if typ.Transient() {
		return 0, apperr.Wrap("store.Append", apperr.ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, apperr.ErrNotFound
	}

	m.nextID[sessionID]++
	id := m.nextID[sessionID]
	ev := model.Event{
		ID:        id,
		SessionID: sessionID,
		Type:      typ,
		Data:      data,
		CreatedAt: nowFunc(),
	}
	m.events[sessionID] = append(m.events[sessionID], ev)
	if s := m.sessions[sessionID]; s != nil {
		s.EventCount++
	}
	return id, nil
}

// ListEvents implements Store.
func (m *MemoryStore) ListEvents(ctx context.Context, sessionID string, afterID int64) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.events[sessionID]
	out := make([]model.Event, 0, len(all))
	for _, e := range all {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSession implements Store.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneSession(s), nil
}

// CreateSession implements Store.
func (m *MemoryStore) CreateSession(ctx context.Context, s *model.Session) error {
	if s == nil || s.ID == "" {
		return apperr.Wrap("store.CreateSession", apperr.ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return apperr.Wrap("store.CreateSession", apperr.ErrConflict)
	}
	cp := cloneSession(s)
	cp.ActivatedAt = nowFunc()
	m.sessions[s.ID] = cp
	m.order = append(m.order, s.ID)
	if _, ok := m.events[s.ID]; !ok {
		m.events[s.ID] = nil
	}
	return nil
}

// SetStatus implements Store.
func (m *MemoryStore) SetStatus(ctx context.Context, id string, status model.SessionStatus, extras StatusExtras) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return apperr.ErrNotFound
	}
	s.Status = status
	if extras.Response != nil {
		s.Response = append([]model.Message(nil), extras.Response...)
	}
	if extras.Usage != nil {
		s.Usage = extras.Usage
	}
	if extras.EventCount != nil {
		s.EventCount = *extras.EventCount
	}
	s.Error = extras.ErrorMessage
	if extras.ClearCompleted {
		s.CompletedAt = nil
		s.ActivatedAt = nowFunc()
	}
	if extras.CompletedNow {
		t := nowFunc()
		s.CompletedAt = &t
	}
	return nil
}

// ListSessions implements Store.
func (m *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := append([]string(nil), m.order...)
	sort.Slice(ids, func(i, j int) bool {
		return m.sessions[ids[i]].CreatedAt.After(m.sessions[ids[j]].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = len(ids)
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	out := make([]model.Session, 0, limit)
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, *cloneSession(m.sessions[ids[i]]))
	}
	return out, nil
}
