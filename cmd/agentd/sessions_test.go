package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/pkg/model"
)

func TestListSessionsHandler_ReturnsNewestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{ID: "a", Status: model.StatusCompleted, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{ID: "b", Status: model.StatusCompleted, CreatedAt: time.Now().Add(time.Second)}))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	listSessionsHandler(s)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []model.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestMessagesHandler_ReconstructsHistory(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateSession(context.Background(), &model.Session{ID: "sess-1", Status: model.StatusCompleted, CreatedAt: time.Now()}))
	userMsg := model.Message{Role: model.RoleUser, Content: []model.ContentBlock{{Type: model.ContentText, Text: "hi"}}}
	_, err := s.Append(context.Background(), "sess-1", model.EventUserMessage, model.EventData{Message: &userMsg})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/messages", nil)
	req.SetPathValue("id", "sess-1")
	w := httptest.NewRecorder()
	messagesHandler(s)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got messagesReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "sess-1", got.Session.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Text())
}

func TestMessagesHandler_UnknownSessionIsNotFound(t *testing.T) {
	s := store.NewMemoryStore()

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing/messages", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()
	messagesHandler(s)(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
