package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/logan496/elearning-chat/internal/models"
	"github.com/logan496/elearning-chat/internal/protocol"
)

// History fetches historical messages and the conversation list, consumed
// once at session start and when a conversation is opened for the first time.
type History interface {
	General(ctx context.Context) ([]models.Message, error)
	Direct(ctx context.Context, userID int64) ([]models.Message, error)
	Conversations(ctx context.Context) ([]models.Conversation, error)
}

// RESTHistory talks to the platform's REST API with the same bearer token as
// the socket session.
type RESTHistory struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTHistory creates a history client for the given API base URL.
func NewRESTHistory(baseURL, token string) *RESTHistory {
	return &RESTHistory{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// General fetches the shared room's history in chronological order.
func (h *RESTHistory) General(ctx context.Context) ([]models.Message, error) {
	var wire []protocol.InboundMessage
	if err := h.get(ctx, "/api/messages/general", &wire); err != nil {
		return nil, err
	}
	return toMessages(wire, models.GeneralKey), nil
}

// Direct fetches the history of the conversation with one user.
func (h *RESTHistory) Direct(ctx context.Context, userID int64) ([]models.Message, error) {
	var wire []protocol.InboundMessage
	path := "/api/messages/direct/" + strconv.FormatInt(userID, 10)
	if err := h.get(ctx, path, &wire); err != nil {
		return nil, err
	}
	return toMessages(wire, models.UserKey(userID)), nil
}

// Conversations fetches the known direct conversations.
func (h *RESTHistory) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var wire []protocol.ConversationEntry
	if err := h.get(ctx, "/api/conversations", &wire); err != nil {
		return nil, err
	}

	conversations := make([]models.Conversation, 0, len(wire))
	for _, entry := range wire {
		conv := models.Conversation{
			Key:         models.UserKey(entry.User.ID),
			DisplayName: entry.User.Username,
			Avatar:      entry.User.Avatar,
			UnreadCount: entry.UnreadCount,
		}
		if entry.LastMessage != nil {
			conv.PreviewText = entry.LastMessage.Content
			conv.PreviewAt = entry.LastMessage.CreatedAt
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func (h *RESTHistory) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history request %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode history response: %w", err)
	}
	return nil
}

func toMessages(wire []protocol.InboundMessage, key models.ConversationKey) []models.Message {
	messages := make([]models.Message, 0, len(wire))
	for i := range wire {
		m := wire[i]
		m.TempID = "" // history rows never resolve pending sends
		messages = append(messages, m.ToModel(key))
	}
	return messages
}
