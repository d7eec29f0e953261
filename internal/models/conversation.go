package models

import (
	"strconv"
	"time"
)

// ConversationKey identifies a conversation: the shared general room or a
// one-to-one conversation keyed by the counterpart's user id.
type ConversationKey string

// GeneralKey is the sentinel key of the shared broadcast room.
const GeneralKey ConversationKey = "general"

// UserKey returns the key of the direct conversation with the given user.
func UserKey(userID int64) ConversationKey {
	return ConversationKey(strconv.FormatInt(userID, 10))
}

// IsGeneral reports whether the key names the shared room.
func (k ConversationKey) IsGeneral() bool {
	return k == GeneralKey
}

// UserID returns the counterpart user id for a direct-conversation key.
func (k ConversationKey) UserID() (int64, bool) {
	if k.IsGeneral() {
		return 0, false
	}
	id, err := strconv.ParseInt(string(k), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Conversation is a sidebar entry: the general room or one direct chat with a
// counterpart user. Entries are never removed within a session.
type Conversation struct {
	Key         ConversationKey `json:"key"`
	DisplayName string          `json:"display_name"`
	Avatar      string          `json:"avatar,omitempty"`
	IsGeneral   bool            `json:"is_general"`
	PreviewText string          `json:"preview_text,omitempty"`
	PreviewAt   time.Time       `json:"preview_at,omitempty"`
	UnreadCount int             `json:"unread_count"`
}
