package orchestrator

import (
	"context"

	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

// Reconstruct replays a session's event log into a message history
// equivalent for model continuation.
//
//   - user_message      -> append a user message carrying the original text.
//   - message_end (assistant) -> append the stored assistant message.
//   - turn_end          -> append every tool_result, in order.
//   - everything else is ignored.
//
// Every assistant message carrying tool_call blocks is followed by a
// turn_end carrying a matching tool_result for each call_id before the log
// ends, so this reconstruction is always well-formed.
func Reconstruct(ctx context.Context, s store.Store, sessionID string) ([]model.Message, error) {
	events, err := s.ListEvents(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	var history []model.Message
	for _, ev := range events {
		switch ev.Type {
		case model.EventUserMessage:
			if ev.Data.Message != nil {
				history = append(history, *ev.Data.Message)
			}
		case model.EventMessageEnd:
			if ev.Data.Message != nil && ev.Data.Message.Role == model.RoleAssistant {
				history = append(history, *ev.Data.Message)
			}
		case model.EventTurnEnd:
			for _, res := range ev.Data.ToolResults {
				history = append(history, model.Message{
					Role:          model.RoleToolResult,
					Content:       res.Content,
					ToolResultFor: res.CallID,
				})
			}
		}
	}
	return history, nil
}
