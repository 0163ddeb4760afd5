// Package orchestrator implements the session orchestrator: it binds a
// session to one Agent Loop run, writes the user/system/terminal events
// around that run, and reconstructs conversation history for
// continuations.
//
// Session creation, tool instantiation, and loop construction happen in
// one place per request, with a per-session write lock held for the
// duration of the run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-agents/agentd/internal/agentloop"
	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/internal/metrics"
	"github.com/nexus-agents/agentd/internal/mount"
	"github.com/nexus-agents/agentd/internal/queue"
	"github.com/nexus-agents/agentd/internal/sessionlock"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

// LoopFactory builds the Agent Loop used for one run. The Orchestrator
// calls it fresh per turn so callers can vary tool sets per session.
type LoopFactory func(sessionID string) *agentloop.Loop

// Orchestrator ties the Event Log Store, Event Queue, and Agent Loop
// together for a pool of sessions.
type Orchestrator struct {
	store       store.Store
	locker      *sessionlock.Locker
	mounts      mount.Store
	metrics     *metrics.Registry
	log         *slog.Logger
	newLoop     LoopFactory
	idGenerator func() string

	abortCheckInterval time.Duration
}

// Config configures an Orchestrator.
type Config struct {
	Store              store.Store
	Mounts             mount.Store
	Metrics            *metrics.Registry
	Logger             *slog.Logger
	LoopFactory        LoopFactory
	IDGenerator        func() string
	AbortCheckInterval time.Duration
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Mounts == nil {
		cfg.Mounts = mount.NoopStore{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		store:              cfg.Store,
		locker:             sessionlock.New(0),
		mounts:             cfg.Mounts,
		metrics:            cfg.Metrics,
		log:                cfg.Logger.With("component", "orchestrator"),
		newLoop:            cfg.LoopFactory,
		idGenerator:        cfg.IDGenerator,
		abortCheckInterval: cfg.AbortCheckInterval,
	}
}

// StartRequest is the input to Start: either a brand new session (SessionID
// empty) or a continuation of an existing one.
type StartRequest struct {
	SessionID string
	Text      string
	// History, when non-nil, short-circuits log reconstruction and is used
	// as-is to seed the run.
	History []model.Message
}

// Start resolves req into a running session and launches its Agent Loop run
// in the background, returning the session id immediately. The caller
// observes progress via the Resumable Reader or Live Transport.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	sessionID := req.SessionID
	isNew := sessionID == ""
	if isNew {
		sessionID = o.newSessionID()
	}

	if err := o.locker.Lock(ctx, sessionID); err != nil {
		return "", fmt.Errorf("acquire session lock: %w", err)
	}

	if isNew {
		sess := &model.Session{
			ID:             sessionID,
			InitialMessage: req.Text,
			Status:         model.StatusRunning,
			CreatedAt:      time.Now(),
		}
		if err := o.store.CreateSession(ctx, sess); err != nil {
			o.locker.Unlock(sessionID)
			return "", err
		}
	} else {
		sess, err := o.store.GetSession(ctx, sessionID)
		if err != nil {
			o.locker.Unlock(sessionID)
			return "", err
		}
		if sess.Status == model.StatusRunning {
			o.locker.Unlock(sessionID)
			return "", apperr.Wrap("orchestrator.Start", apperr.ErrConflict)
		}
		if err := o.store.SetStatus(ctx, sessionID, model.StatusRunning, store.StatusExtras{ClearCompleted: true}); err != nil {
			o.locker.Unlock(sessionID)
			return "", err
		}
	}

	userMsg := model.Message{
		Role:      model.RoleUser,
		Content:   []model.ContentBlock{{Type: model.ContentText, Text: req.Text}},
		Timestamp: time.Now(),
	}

	go func() {
		defer o.locker.Unlock(sessionID)
		o.run(sessionID, userMsg, req.History)
	}()

	return sessionID, nil
}

// Abort transitions sessionID out of StatusRunning and writes the terminal
// session_aborted event directly (bypassing the run's own Queue, which may
// no longer be draining). The run's Event Queue observes the status change
// on its next abort poll and cancels the in-flight Agent Loop.
func (o *Orchestrator) Abort(ctx context.Context, sessionID string) error {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusRunning {
		return nil
	}
	if err := o.store.SetStatus(ctx, sessionID, model.StatusCompleted, store.StatusExtras{CompletedNow: true}); err != nil {
		return err
	}
	_, err = o.store.Append(ctx, sessionID, model.EventSessionAborted, model.EventData{Reason: "aborted by caller"})
	return err
}

func (o *Orchestrator) newSessionID() string {
	if o.idGenerator != nil {
		return o.idGenerator()
	}
	return defaultIDGenerator()
}

// run executes one turn end-to-end: seed the user message, reconstruct
// history, restore mounts, run the loop, and write the terminal event.
func (o *Orchestrator) run(sessionID string, userMsg model.Message, explicitHistory []model.Message) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New(o.store, sessionID, queue.Config{
		AbortCheckInterval: o.abortCheckInterval,
		OnAbort:            cancel,
		Metrics:            o.metrics,
		Logger:             o.log,
	})
	defer q.Close()

	// History is built before this turn's user_message is pushed, so the
	// replayed log never already contains the message buildHistory appends.
	history, err := o.buildHistory(runCtx, sessionID, userMsg, explicitHistory)

	q.Push(model.EventUserMessage, model.EventData{Message: &userMsg})

	if err != nil {
		o.fail(q, sessionID, err)
		return
	}

	if _, err := o.mounts.Restore(runCtx, sessionID); err != nil {
		o.log.Warn("mount restore failed", "session_id", sessionID, "error", err)
	}

	loop := o.newLoop(sessionID)
	messages, usage, runErr := loop.Run(runCtx, q, history)

	q.Flush(context.Background())

	if q.WasAbortedExternally() {
		// The Abort path already wrote session_aborted and set status
		// completed; nothing further to record.
		return
	}

	if runErr != nil {
		o.fail(q, sessionID, runErr)
		return
	}

	q.Push(model.EventSessionComplete, model.EventData{})
	q.Flush(context.Background())

	// usage covers this run only; add it to the total kept from earlier turns.
	total := usage
	if prev, err := o.store.GetSession(context.Background(), sessionID); err == nil && prev.Usage != nil {
		total.InputTokens += prev.Usage.InputTokens
		total.OutputTokens += prev.Usage.OutputTokens
	}

	count := q.Count()
	if err := o.store.SetStatus(context.Background(), sessionID, model.StatusCompleted, store.StatusExtras{
		Response:     messages,
		Usage:        &total,
		EventCount:   &count,
		CompletedNow: true,
	}); err != nil {
		o.log.Error("failed to write terminal status", "session_id", sessionID, "error", err)
	}
}

// buildHistory seeds a run's context: explicit history short-circuits
// reconstruction; otherwise the log is replayed.
func (o *Orchestrator) buildHistory(ctx context.Context, sessionID string, userMsg model.Message, explicit []model.Message) ([]model.Message, error) {
	if explicit != nil {
		return append(append([]model.Message(nil), explicit...), userMsg), nil
	}
	history, err := Reconstruct(ctx, o.store, sessionID)
	if err != nil {
		return nil, err
	}
	return append(history, userMsg), nil
}

func (o *Orchestrator) fail(q *queue.Queue, sessionID string, runErr error) {
	cur, err := o.store.GetSession(context.Background(), sessionID)
	if err == nil && cur.Status == model.StatusCompleted {
		// Abort raced the failure; the abort path already wrote the
		// terminal event.
		return
	}
	q.Push(model.EventSessionError, model.EventData{Reason: runErr.Error()})
	q.Flush(context.Background())
	if setErr := o.store.SetStatus(context.Background(), sessionID, model.StatusError, store.StatusExtras{
		ErrorMessage: runErr.Error(),
		CompletedNow: true,
	}); setErr != nil {
		o.log.Error("failed to write error status", "session_id", sessionID, "error", setErr)
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}
