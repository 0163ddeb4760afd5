package sessionlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_LockUnlock(t *testing.T) {
	l := New(100 * time.Millisecond)

	require.NoError(t, l.Lock(context.Background(), "s1"))
	l.Unlock("s1")
	require.NoError(t, l.Lock(context.Background(), "s1"))
	l.Unlock("s1")
}

func TestLocker_BlocksConcurrentHolder(t *testing.T) {
	l := New(200 * time.Millisecond)
	require.NoError(t, l.Lock(context.Background(), "s1"))

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Unlock("s1")
		close(released)
	}()

	start := time.Now()
	require.NoError(t, l.Lock(context.Background(), "s1"))
	elapsed := time.Since(start)

	<-released
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	l.Unlock("s1")
}

func TestLocker_TimesOut(t *testing.T) {
	l := New(30 * time.Millisecond)
	require.NoError(t, l.Lock(context.Background(), "s1"))
	defer l.Unlock("s1")

	err := l.Lock(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocker_RespectsContextCancellation(t *testing.T) {
	l := New(5 * time.Second)
	require.NoError(t, l.Lock(context.Background(), "s1"))
	defer l.Unlock("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Lock(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_IndependentSessions(t *testing.T) {
	l := New(time.Second)
	require.NoError(t, l.Lock(context.Background(), "s1"))
	defer l.Unlock("s1")

	require.NoError(t, l.Lock(context.Background(), "s2"))
	l.Unlock("s2")
}
