package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nexus-agents/agentd/internal/apperr"
	"github.com/nexus-agents/agentd/internal/orchestrator"
	"github.com/nexus-agents/agentd/internal/reader"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

// eventsHandler serves the resumable event reader over plain JSON
// long-polling: GET /sessions/{id}/events?after_id=N.
func eventsHandler(rd *reader.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		afterID, err := strconv.ParseInt(r.URL.Query().Get("after_id"), 10, 64)
		if err != nil {
			afterID = 0
		}

		result, err := rd.List(r.Context(), sessionID, afterID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

// listSessionsHandler serves GET /sessions?limit=N&offset=N, returning
// session summaries newest first.
func listSessionsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		sessions, err := st.ListSessions(r.Context(), store.ListOptions{Limit: limit, Offset: offset})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sessions)
	}
}

// messagesReply is the wire body for GET /sessions/{id}/messages.
type messagesReply struct {
	Session  model.Session   `json:"session"`
	Messages []model.Message `json:"messages"`
}

// messagesHandler serves GET /sessions/{id}/messages: the reconstructed
// message history for a session alongside its summary.
func messagesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")

		sess, err := st.GetSession(r.Context(), sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, apperr.ErrNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		messages, err := orchestrator.Reconstruct(r.Context(), st, sessionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messagesReply{Session: *sess, Messages: messages})
	}
}

// abortHandler serves POST /sessions/{id}/abort.
func abortHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if err := orch.Abort(r.Context(), sessionID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
