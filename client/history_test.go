package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan496/elearning-chat/internal/models"
	"github.com/logan496/elearning-chat/internal/protocol"
)

func newHistoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	ana := models.User{ID: 7, Username: "ana"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages/general", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]protocol.InboundMessage{
			{ID: 1, Content: "first", CreatedAt: time.Unix(100, 0).UTC(), Sender: &ana},
			{ID: 2, Content: "second", CreatedAt: time.Unix(200, 0).UTC(), Sender: &ana},
		})
	})
	mux.HandleFunc("/api/messages/direct/7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]protocol.InboundMessage{
			{ID: 3, Content: "dm", CreatedAt: time.Unix(300, 0).UTC(), Sender: &ana},
		})
	})
	mux.HandleFunc("/api/conversations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]protocol.ConversationEntry{
			{
				User:        ana,
				LastMessage: &protocol.InboundMessage{ID: 3, Content: "dm", CreatedAt: time.Unix(300, 0).UTC(), Sender: &ana},
				UnreadCount: 2,
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRESTHistoryGeneral(t *testing.T) {
	srv := newHistoryServer(t)
	h := NewRESTHistory(srv.URL, "tok")

	msgs, err := h.General(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.GeneralKey, msgs[0].Conversation)
	assert.Equal(t, models.StateConfirmed, msgs[0].State)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, int64(7), msgs[0].Sender.ID)
}

func TestRESTHistoryDirect(t *testing.T) {
	srv := newHistoryServer(t)
	h := NewRESTHistory(srv.URL, "tok")

	msgs, err := h.Direct(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.UserKey(7), msgs[0].Conversation)
}

func TestRESTHistoryConversations(t *testing.T) {
	srv := newHistoryServer(t)
	h := NewRESTHistory(srv.URL, "tok")

	conversations, err := h.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, models.UserKey(7), conversations[0].Key)
	assert.Equal(t, "ana", conversations[0].DisplayName)
	assert.Equal(t, "dm", conversations[0].PreviewText)
	assert.Equal(t, 2, conversations[0].UnreadCount)
}

func TestRESTHistoryAuthFailure(t *testing.T) {
	srv := newHistoryServer(t)
	h := NewRESTHistory(srv.URL, "wrong")

	_, err := h.General(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
