// Package model defines the wire and persistence types shared across the
// agent session orchestrator: sessions, the append-only event log, and the
// message/content types the agent loop exchanges with the model and tools.
package model

import "time"

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Session is a durable conversation with a linear event log.
type Session struct {
	ID             string        `json:"id"`
	InitialMessage string        `json:"initial_message"`
	Status         SessionStatus `json:"status"`
	Response       []Message     `json:"response,omitempty"`
	Usage          *Usage        `json:"usage,omitempty"`
	EventCount     int64         `json:"event_count"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	// ActivatedAt is reset every time the session (re-)enters StatusRunning;
	// the resumable reader compares against it, not CreatedAt, so a
	// continuation's staleness clock starts fresh.
	ActivatedAt    time.Time     `json:"activated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Usage is an aggregate token counter. The Orchestrator keeps this as a
// running sum across turns.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// EventType enumerates the event taxonomy emitted during a session run.
type EventType string

const (
	EventUserMessage        EventType = "user_message"
	EventAgentStart         EventType = "agent_start"
	EventTurnStart          EventType = "turn_start"
	EventMessageStart       EventType = "message_start" // transient, never persisted
	EventMessageUpdate      EventType = "message_update" // transient, never persisted
	EventMessageEnd         EventType = "message_end"
	EventToolExecutionStart EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update" // advisory, may be absent
	EventToolExecutionEnd   EventType = "tool_execution_end"
	EventTurnEnd            EventType = "turn_end"
	EventAgentEnd           EventType = "agent_end"
	EventArtifactUpdate     EventType = "artifact_update"
	EventSessionComplete    EventType = "session_complete"
	EventSessionError       EventType = "session_error"
	EventSessionAborted     EventType = "session_aborted"
)

// Transient reports whether events of this type must never be appended to
// the Event Log Store.
func (t EventType) Transient() bool {
	switch t {
	case EventMessageStart, EventMessageUpdate:
		return true
	default:
		return false
	}
}

// Event is one append-only record in a session's log.
//
// ID is assigned by the Store and is monotonically increasing within a
// session; it is never assigned by callers.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Data      EventData `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// EventData is the structured payload carried by an Event. The Store treats
// it as an opaque blob (marshaled to JSON); only the Agent Loop and
// Reconstruction interpret individual fields.
type EventData struct {
	Message       *Message     `json:"message,omitempty"`
	ToolName      string       `json:"tool_name,omitempty"`
	CallID        string       `json:"call_id,omitempty"`
	Args          any          `json:"args,omitempty"`
	IsError       bool         `json:"is_error,omitempty"`
	Result        string       `json:"result,omitempty"`
	Text          string       `json:"text,omitempty"`
	ToolResults   []ToolResult `json:"tool_results,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	ArtifactName  string       `json:"artifact_name,omitempty"`
}

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ContentType tags a ContentBlock's kind.
type ContentType string

const (
	ContentText      ContentType = "text"
	ContentToolCall  ContentType = "tool_call"
	ContentImage     ContentType = "image"
	ContentReasoning ContentType = "reasoning"
)

// ContentBlock is one element of a Message's ordered content list.
type ContentBlock struct {
	Type      ContentType `json:"type"`
	Text      string      `json:"text,omitempty"`
	ToolCall  *ToolCall   `json:"tool_call,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	Reasoning string      `json:"reasoning,omitempty"`
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Arguments any    `json:"arguments"`
}

// ToolResult is the Tool Executor's answer to a ToolCall, fed back to the
// model as ordinary content (never a Go error).
type ToolResult struct {
	CallID  string         `json:"call_id"`
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error"`
}

// Message is one turn of conversation, persisted inside an Event's data.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Prefix    string         `json:"prefix,omitempty"`
	Usage     *Usage         `json:"usage,omitempty"`
	// ToolResultFor references the call_id this message answers, set only
	// when Role == RoleToolResult.
	ToolResultFor string `json:"tool_result_for,omitempty"`
}

// Text returns the concatenation of all text content blocks, the common
// case for display and for feeding a message to convert_to_llm hooks.
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if c.Type == ContentText {
			out += c.Text
		}
	}
	return out
}

// ToolCalls returns every tool_call content block in the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range m.Content {
		if c.Type == ContentToolCall && c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return calls
}
