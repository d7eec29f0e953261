package client

import (
	"sync"

	"github.com/logan496/elearning-chat/internal/models"
)

// Route says where an inbound message goes for the user currently looking at
// the screen.
type Route int

const (
	// RouteLive appends the message to the visible pane.
	RouteLive Route = iota
	// RouteBadge only updates the sidebar preview and unread counter.
	RouteBadge
)

// ViewSelector tracks the single active (visible) conversation, or none.
// Selecting a conversation clears its unread counter.
type ViewSelector struct {
	mu     sync.RWMutex
	active models.ConversationKey // empty = nothing open
	dir    *Directory
}

// NewViewSelector creates a selector with no active conversation.
func NewViewSelector(dir *Directory) *ViewSelector {
	return &ViewSelector{dir: dir}
}

// SetActive makes key the visible conversation and resets its unread count.
func (v *ViewSelector) SetActive(key models.ConversationKey) {
	v.mu.Lock()
	v.active = key
	v.mu.Unlock()

	v.dir.ResetUnread(key)
}

// ClearActive closes the visible pane without opening another conversation.
func (v *ViewSelector) ClearActive() {
	v.mu.Lock()
	v.active = ""
	v.mu.Unlock()
}

// Active returns the visible conversation key, if any.
func (v *ViewSelector) Active() (models.ConversationKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active, v.active != ""
}

// IsActive reports whether key is the visible conversation.
func (v *ViewSelector) IsActive(key models.ConversationKey) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active == key
}

// Route decides whether a message for key renders live or only moves the
// sidebar badge.
func (v *ViewSelector) Route(key models.ConversationKey) Route {
	if v.IsActive(key) {
		return RouteLive
	}
	return RouteBadge
}
