package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logan496/elearning-chat/internal/models"
)

// PendingTracker records in-flight sends by their client-generated temp id
// until the server echo resolves them or the timeout sweep gives up on them.
// It is owned by the Chat facade; there is no package-global state.
type PendingTracker struct {
	mu      sync.Mutex
	entries map[string]pendingSend
}

type pendingSend struct {
	conversation models.ConversationKey
	submittedAt  time.Time
}

// Expired is a pending send the sweep gave up on. The conversation key is
// returned alongside the temp id so the caller can locate the placeholder
// without scanning every conversation.
type Expired struct {
	TempID       string
	Conversation models.ConversationKey
	SubmittedAt  time.Time
}

// NewPendingTracker creates an empty tracker.
func NewPendingTracker() *PendingTracker {
	return &PendingTracker{entries: make(map[string]pendingSend)}
}

// Begin records a new in-flight send and returns its temp id. The id is
// unique for the session; it is not a durable message id.
func (t *PendingTracker) Begin(key models.ConversationKey, now time.Time) string {
	tempID := uuid.NewString()

	t.mu.Lock()
	t.entries[tempID] = pendingSend{conversation: key, submittedAt: now}
	t.mu.Unlock()

	return tempID
}

// Resolve removes and returns the conversation recorded for tempID. Each temp
// id resolves at most once; a second call for the same id reports false.
func (t *PendingTracker) Resolve(tempID string) (models.ConversationKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[tempID]
	if !ok {
		return "", false
	}
	delete(t.entries, tempID)
	return entry.conversation, true
}

// SweepTimeouts removes and returns every entry submitted more than threshold
// before now. Each expired entry is returned exactly once; the tracker never
// retries on its own.
func (t *PendingTracker) SweepTimeouts(now time.Time, threshold time.Duration) []Expired {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Expired
	for tempID, entry := range t.entries {
		if now.Sub(entry.submittedAt) < threshold {
			continue
		}
		expired = append(expired, Expired{
			TempID:       tempID,
			Conversation: entry.conversation,
			SubmittedAt:  entry.submittedAt,
		})
		delete(t.entries, tempID)
	}
	return expired
}

// Len returns the number of in-flight sends.
func (t *PendingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
