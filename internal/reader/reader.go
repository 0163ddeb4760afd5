// Package reader implements the resumable reader: a long-poll read API
// over the Event Log Store with strictly-exclusive cursor semantics and
// stale-session (worker-death) detection.
//
// Staleness is judged by comparing now against a stored timestamp via an
// injectable nowFunc, applied here to worker liveness rather than
// conversation idling.
package reader

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/internal/metrics"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

const (
	DefaultStaleSessionMax    = 5 * time.Minute
	DefaultLongPollTimeout    = 25 * time.Second
	DefaultLongPollInterval   = 1 * time.Second
)

// Result is the Reader's response to one List call.
type Result struct {
	Status model.SessionStatus
	Events []model.Event
}

// Config configures a Reader.
type Config struct {
	StaleSessionMax  time.Duration
	LongPollTimeout  time.Duration
	LongPollInterval time.Duration
	Metrics          *metrics.Registry
	Logger           *slog.Logger
	// nowFunc is overridable in tests.
	nowFunc func() time.Time
}

// Reader implements list(session_id, after_event_id) over a Store.
type Reader struct {
	store store.Store
	cfg   Config
	log   *slog.Logger
}

// New constructs a Reader, applying defaults for zero-valued fields.
func New(s store.Store, cfg Config) *Reader {
	if cfg.StaleSessionMax <= 0 {
		cfg.StaleSessionMax = DefaultStaleSessionMax
	}
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = DefaultLongPollTimeout
	}
	if cfg.LongPollInterval <= 0 {
		cfg.LongPollInterval = DefaultLongPollInterval
	}
	if cfg.nowFunc == nil {
		cfg.nowFunc = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reader{store: s, cfg: cfg, log: cfg.Logger.With("component", "reader")}
}

// SetNowFunc overrides the reader's clock, for deterministic stale-session
// tests.
func (r *Reader) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		r.cfg.nowFunc = fn
	}
}

// List returns events after afterID for sessionID, blocking up to
// LongPollTimeout if the cursor is already caught up and the session is
// still running.
func (r *Reader) List(ctx context.Context, sessionID string, afterID int64) (Result, error) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveLongPolls.Inc()
		defer r.cfg.Metrics.ActiveLongPolls.Dec()
	}
	start := r.cfg.nowFunc()
	defer func() {
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.LongPollWait.Observe(r.cfg.nowFunc().Sub(start).Seconds())
		}
	}()

	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	if sess.Status == model.StatusRunning && r.isStale(sess) {
		sess, err = r.markStale(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
	}

	events, err := r.store.ListEvents(ctx, sessionID, afterID)
	if err != nil {
		return Result{}, err
	}
	if len(events) > 0 || sess.Status != model.StatusRunning {
		return Result{Status: sess.Status, Events: events}, nil
	}

	return r.longPoll(ctx, sessionID, afterID)
}

// isStale reports whether a running session has been running longer than
// StaleSessionMax since its last activation, and so is presumed
// worker-dead; recent events do not reset this clock. This is the only
// place liveness is judged without cooperation from the worker itself.
func (r *Reader) isStale(sess *model.Session) bool {
	return r.cfg.nowFunc().Sub(sess.ActivatedAt) > r.cfg.StaleSessionMax
}

func (r *Reader) markStale(ctx context.Context, sessionID string) (*model.Session, error) {
	r.log.Warn("session exceeded stale threshold, declaring worker death", "session_id", sessionID, "error", apperr.ErrWorkerDeath)
	if err := r.store.SetStatus(ctx, sessionID, model.StatusError, store.StatusExtras{
		ErrorMessage: "timed out",
		CompletedNow: true,
	}); err != nil {
		return nil, err
	}
	if _, err := r.store.Append(ctx, sessionID, model.EventSessionError, model.EventData{Reason: "timed out"}); err != nil {
		return nil, err
	}
	return r.store.GetSession(ctx, sessionID)
}

func (r *Reader) longPoll(ctx context.Context, sessionID string, afterID int64) (Result, error) {
	deadline := r.cfg.nowFunc().Add(r.cfg.LongPollTimeout)
	ticker := time.NewTicker(r.cfg.LongPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
			if r.cfg.nowFunc().After(deadline) {
				sess, err := r.store.GetSession(ctx, sessionID)
				if err != nil {
					return Result{}, err
				}
				return Result{Status: sess.Status}, nil
			}

			sess, err := r.store.GetSession(ctx, sessionID)
			if err != nil {
				return Result{}, err
			}
			events, err := r.store.ListEvents(ctx, sessionID, afterID)
			if err != nil {
				return Result{}, err
			}
			if len(events) > 0 || sess.Status != model.StatusRunning {
				return Result{Status: sess.Status, Events: events}, nil
			}
		}
	}
}
