package client

import (
	"sync"

	"github.com/logan496/elearning-chat/internal/models"
)

// DisplayInfo is the sidebar identity used when a conversation is first seen.
type DisplayInfo struct {
	DisplayName string
	Avatar      string
}

// Directory owns the ordered set of known conversations and their previews.
// The general room is always listed first; direct conversations follow in the
// order they were first seen. A new message does not move its conversation up
// the list. Entries are never removed within a session.
type Directory struct {
	mu    sync.RWMutex
	byKey map[models.ConversationKey]*models.Conversation
	order []models.ConversationKey // direct conversations, insertion order
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{byKey: make(map[models.ConversationKey]*models.Conversation)}
}

// Ensure returns the conversation for key, creating it on first contact.
// A later call may fill in display info that was unknown at creation time
// (e.g. an entry created from a message before the profile fetch).
func (d *Directory) Ensure(key models.ConversationKey, seed DisplayInfo) models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conv, ok := d.byKey[key]; ok {
		if conv.DisplayName == "" && seed.DisplayName != "" {
			conv.DisplayName = seed.DisplayName
		}
		if conv.Avatar == "" && seed.Avatar != "" {
			conv.Avatar = seed.Avatar
		}
		return *conv
	}

	conv := &models.Conversation{
		Key:         key,
		DisplayName: seed.DisplayName,
		Avatar:      seed.Avatar,
		IsGeneral:   key.IsGeneral(),
	}
	d.byKey[key] = conv
	if !conv.IsGeneral {
		d.order = append(d.order, key)
	}
	return *conv
}

// Install restores a full conversation record, preview and unread counter
// included, as loaded from the local cache or the conversation-list fetch.
// An entry that already exists keeps its live state.
func (d *Directory) Install(conv models.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byKey[conv.Key]; ok {
		return
	}
	conv.IsGeneral = conv.Key.IsGeneral()
	stored := conv
	d.byKey[conv.Key] = &stored
	if !stored.IsGeneral {
		d.order = append(d.order, conv.Key)
	}
}

// ApplyPreview updates a conversation's sidebar preview from a message and,
// when countUnread is set, bumps its unread counter. The caller decides
// whether the message counts as unread (it never does for the active
// conversation or for own sends).
func (d *Directory) ApplyPreview(key models.ConversationKey, msg models.Message, countUnread bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, ok := d.byKey[key]
	if !ok {
		return
	}
	conv.PreviewText = msg.Content
	conv.PreviewAt = msg.SentAt
	if countUnread {
		conv.UnreadCount++
	}
}

// ResetUnread zeroes a conversation's unread counter.
func (d *Directory) ResetUnread(key models.ConversationKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conv, ok := d.byKey[key]; ok {
		conv.UnreadCount = 0
	}
}

// Get returns a copy of the conversation for key.
func (d *Directory) Get(key models.ConversationKey) (models.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	conv, ok := d.byKey[key]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

// List returns the sidebar in display order: general first, then direct
// conversations in insertion order.
func (d *Directory) List() []models.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Conversation, 0, len(d.byKey))
	if general, ok := d.byKey[models.GeneralKey]; ok {
		out = append(out, *general)
	}
	for _, key := range d.order {
		out = append(out, *d.byKey[key])
	}
	return out
}

// Len returns the number of known conversations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byKey)
}
