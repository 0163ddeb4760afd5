// Package transport implements the Live Transport: a server-initiated
// stream giving a /chat caller prompt liveness notification without
// requiring them to tail the event log.
//
// Plain net/http.Server style, no web framework; SSE framing uses the
// standard Content-Type/Flusher pattern.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultHeartbeatInterval is the default wait between heartbeat events.
const DefaultHeartbeatInterval = 10 * time.Second

// Done reports the terminal status carried by the stream's final event.
type Done struct {
	Status string `json:"status"` // "completed" | "error"
}

// Stream writes the session/heartbeat/done sequence to w for one /chat
// invocation: exactly one session event first, zero or more heartbeats,
// exactly one done event last.
type Stream struct {
	w                http.ResponseWriter
	flusher          http.Flusher
	heartbeatInterval time.Duration
}

// New wraps w as a Stream. It returns an error if w does not support
// flushing (required for incremental SSE delivery).
func New(w http.ResponseWriter, heartbeatInterval time.Duration) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing")
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Stream{w: w, flusher: flusher, heartbeatInterval: heartbeatInterval}, nil
}

// Session emits the mandatory first event carrying the session id.
func (s *Stream) Session(sessionID string) error {
	return s.write("session", map[string]string{"session_id": sessionID})
}

// Heartbeat emits a liveness ping.
func (s *Stream) Heartbeat() error {
	return s.write("heartbeat", struct{}{})
}

// DoneEvent emits the mandatory final event and should be the last call
// made on s.
func (s *Stream) DoneEvent(status string) error {
	return s.write("done", Done{Status: status})
}

func (s *Stream) write(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HeartbeatInterval reports the configured interval, for callers driving
// their own select loop against a done channel.
func (s *Stream) HeartbeatInterval() time.Duration { return s.heartbeatInterval }
