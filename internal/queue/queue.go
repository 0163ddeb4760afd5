// Package queue implements the Event Queue: a single-consumer FIFO
// serializer for one running session's event appends, with a periodic
// poll for externally-signaled cancellation.
//
// One goroutine owns both the append order and the abort latch, so "was I
// cancelled?" is always answered from inside the task that must stop.
package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nexus-agents/agentd/internal/metrics"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

// DefaultAbortCheckInterval is the minimum wall-clock gap between abort
// polls.
const DefaultAbortCheckInterval = 2 * time.Second

type pushItem struct {
	typ     model.EventType
	data    model.EventData
	isFlush bool
	done    chan struct{} // closed once this item has been appended or dropped
}

// Queue serializes appends for exactly one session's run.
type Queue struct {
	store             store.Store
	sessionID         string
	abortCheckInterval time.Duration
	onAbort           func()
	metrics           *metrics.Registry
	log               *slog.Logger

	items chan pushItem

	count             atomic.Int64
	abortedExternally atomic.Bool
	onAbortFired      atomic.Bool
	lastAbortCheck    atomic.Int64 // unix nanos

	closed atomic.Bool
	stopCh chan struct{}
}

// Config configures a Queue.
type Config struct {
	AbortCheckInterval time.Duration
	OnAbort            func()
	Metrics            *metrics.Registry
	Logger             *slog.Logger
	BufferSize         int
}

// New starts a Queue for sessionID, backed by s, and launches its consumer
// goroutine; call Close to stop it.
func New(s store.Store, sessionID string, cfg Config) *Queue {
	if cfg.AbortCheckInterval <= 0 {
		cfg.AbortCheckInterval = DefaultAbortCheckInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Queue{
		store:              s,
		sessionID:          sessionID,
		abortCheckInterval: cfg.AbortCheckInterval,
		onAbort:            cfg.OnAbort,
		metrics:            cfg.Metrics,
		log:                cfg.Logger.With("component", "queue", "session_id", sessionID),
		items:              make(chan pushItem, cfg.BufferSize),
		stopCh:             make(chan struct{}),
	}
	go q.run()
	return q
}

// Push accepts an event for appending. It returns immediately once the item
// is enqueued; the append itself happens asynchronously, strictly after all
// prior pushes. Transient event types are accepted but never reach the
// Store.
func (q *Queue) Push(typ model.EventType, data model.EventData) {
	if q.closed.Load() {
		return
	}
	item := pushItem{typ: typ, data: data, done: make(chan struct{})}
	select {
	case q.items <- item:
		if q.metrics != nil {
			q.metrics.QueueDepth.Inc()
		}
	case <-q.stopCh:
	}
}

// Flush blocks until every push accepted before this call has been
// appended (successfully or best-effort-dropped).
func (q *Queue) Flush(ctx context.Context) {
	marker := pushItem{isFlush: true, done: make(chan struct{})}
	select {
	case q.items <- marker:
	case <-q.stopCh:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-marker.done:
	case <-ctx.Done():
	}
}

// Count returns the number of events pushed (including transient ones that
// were never appended), observable for the session row's event_count.
func (q *Queue) Count() int64 { return q.count.Load() }

// WasAbortedExternally reports whether the abort poll has observed a
// non-running status for this session.
func (q *Queue) WasAbortedExternally() bool { return q.abortedExternally.Load() }

// Close stops the consumer goroutine. Pending pushes are drained
// best-effort; new pushes after Close are silently dropped.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.stopCh)
	}
}

func (q *Queue) run() {
	for {
		select {
		case item, ok := <-q.items:
			if !ok {
				return
			}
			q.process(item)
		case <-q.stopCh:
			// Drain anything already queued so Flush callers waiting on a
			// marker don't block forever.
			for {
				select {
				case item := <-q.items:
					close(item.done)
				default:
					return
				}
			}
		}
	}
}

// process appends one item (or signals a Flush marker) applying the abort
// check and drop-after-abort rules.
func (q *Queue) process(item pushItem) {
	defer func() {
		if item.done != nil {
			close(item.done)
		}
	}()

	// Flush marker: nothing to append.
	if item.isFlush {
		return
	}

	if q.metrics != nil {
		defer q.metrics.QueueDepth.Dec()
	}

	q.count.Add(1)
	q.maybeCheckAbort()

	if q.abortedExternally.Load() {
		// Drop silently; abort has already been recorded externally.
		return
	}
	if item.typ.Transient() {
		return
	}

	start := time.Now()
	_, err := q.store.Append(context.Background(), q.sessionID, item.typ, item.data)
	if q.metrics != nil {
		q.metrics.AppendLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		q.log.Warn("append dropped after transient store failure", "type", item.typ, "error", err)
		if q.metrics != nil {
			q.metrics.AppendsDropped.Inc()
		}
	}
}

// maybeCheckAbort polls the session's status if the abort-check interval
// has elapsed, latching abortedExternally and firing onAbort exactly once.
func (q *Queue) maybeCheckAbort() {
	now := time.Now()
	last := q.lastAbortCheck.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < q.abortCheckInterval {
		return
	}
	if !q.lastAbortCheck.CompareAndSwap(last, now.UnixNano()) {
		return // another goroutine just checked; process() is single-consumer so this is defensive
	}

	sess, err := q.store.GetSession(context.Background(), q.sessionID)
	if err != nil {
		return // transient read failure; try again next interval
	}
	if sess.Status != model.StatusRunning {
		if q.abortedExternally.CompareAndSwap(false, true) {
			if q.metrics != nil {
				q.metrics.AbortsDetected.Inc()
			}
			if q.onAbortFired.CompareAndSwap(false, true) && q.onAbort != nil {
				q.onAbort()
			}
		}
	}
}
