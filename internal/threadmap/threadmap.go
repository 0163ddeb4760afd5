// Package threadmap maps an external chat-platform thread key (e.g. a
// Slack channel+thread_ts, or a Discord channel id) onto the session id
// that carries its conversation, so a front-end can decide
// continue-vs-new without reaching into core orchestration state.
package threadmap

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store maps thread keys to session ids.
type Store interface {
	// GetOrCreate returns the session id mapped to key, creating a fresh
	// one via newSessionID if none exists yet. created reports whether a
	// new mapping was inserted.
	GetOrCreate(ctx context.Context, key string, newSessionID func() string) (sessionID string, created bool, err error)
	// Get returns the session id mapped to key, if any.
	Get(ctx context.Context, key string) (sessionID string, ok bool, err error)
}

// MemoryStore is an in-process Store, sufficient for single-instance
// deployments and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, key string, newSessionID func() string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.data[key]; ok {
		return id, false, nil
	}
	id := key
	if newSessionID != nil {
		id = newSessionID()
	} else {
		id = uuid.NewString()
	}
	s.data[key] = id
	return id, true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data[key]
	return id, ok, nil
}
