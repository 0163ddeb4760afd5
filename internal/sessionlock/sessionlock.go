// Package sessionlock provides the single-writer-per-session guarantee:
// only one Agent Loop run may hold a session's write lock at a time. A
// sync.Map of per-session mutexes with poll-based timeout acquisition.
package sessionlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lock cannot be acquired before the
// timeout or ctx deadline elapses.
var ErrLockTimeout = errors.New("sessionlock: timeout acquiring session write lock")

// DefaultTimeout is used when Locker is constructed with timeout <= 0.
const DefaultTimeout = 5 * time.Second

const pollInterval = 10 * time.Millisecond

type sessionMutex struct {
	mu     sync.Mutex
	locked bool
}

// Locker hands out per-session write locks backed by a sync.Map.
type Locker struct {
	locks   sync.Map // map[string]*sessionMutex
	timeout time.Duration
}

// New constructs a Locker. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Locker{timeout: timeout}
}

func (l *Locker) getOrCreate(sessionID string) *sessionMutex {
	if m, ok := l.locks.Load(sessionID); ok {
		return m.(*sessionMutex)
	}
	actual, _ := l.locks.LoadOrStore(sessionID, &sessionMutex{})
	return actual.(*sessionMutex)
}

// Lock blocks until the session's write lock is acquired, ctx is done, or
// the Locker's timeout elapses, whichever comes first.
func (l *Locker) Lock(ctx context.Context, sessionID string) error {
	m := l.getOrCreate(sessionID)
	deadline := time.Now().Add(l.timeout)

	for {
		m.mu.Lock()
		if !m.locked {
			m.locked = true
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(pollInterval)
	}
}

// Unlock releases sessionID's write lock. Safe to call even if not held.
func (l *Locker) Unlock(sessionID string) {
	if m, ok := l.locks.Load(sessionID); ok {
		mu := m.(*sessionMutex)
		mu.mu.Lock()
		mu.locked = false
		mu.mu.Unlock()
	}
}
