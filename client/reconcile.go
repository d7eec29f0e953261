package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/logan496/elearning-chat/internal/models"
)

// Action is the outcome of reconciling one inbound message.
type Action string

const (
	// ActionPromoted means the message confirmed a pending placeholder,
	// which was replaced in its list slot.
	ActionPromoted Action = "promoted"
	// ActionAppended means the message was new and went to the end of the
	// conversation's list.
	ActionAppended Action = "appended"
	// ActionDuplicate means a message with the same durable id was already
	// present; the frame was a replayed echo and nothing changed.
	ActionDuplicate Action = "duplicate"
)

// Reconciler owns every conversation's ordered message list and merges each
// inbound message into local state exactly once. List order is arrival order;
// entries are never re-sorted by timestamp, so clock skew between client and
// server stamps cannot reorder a conversation mid-read.
type Reconciler struct {
	pending *PendingTracker
	lists   map[models.ConversationKey][]models.Message
	listsMu sync.RWMutex
	log     zerolog.Logger
}

// NewReconciler creates a reconciler resolving confirmations against pending.
func NewReconciler(pending *PendingTracker, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		pending: pending,
		lists:   make(map[models.ConversationKey][]models.Message),
		log:     log,
	}
}

// DirectKey derives the conversation key of a direct message. An echo of an
// own send (sender is self) belongs to the conversation keyed by the
// recipient, not by oneself; anything else is keyed by the sender.
func DirectKey(selfID int64, sender models.User, recipient *models.User) (models.ConversationKey, bool) {
	if sender.ID == selfID {
		if recipient == nil || recipient.ID == 0 {
			return "", false
		}
		return models.UserKey(recipient.ID), true
	}
	return models.UserKey(sender.ID), true
}

// Ingest merges an inbound message into its conversation's list:
//
//  1. A temp id that resolves against the pending tracker promotes the
//     matching placeholder in place: same slot, confirmed state, durable id.
//  2. A durable id already present in the list is a replayed echo; no-op.
//  3. Anything else is appended.
func (r *Reconciler) Ingest(msg models.Message) (models.ConversationKey, Action) {
	r.listsMu.Lock()
	defer r.listsMu.Unlock()

	key := msg.Conversation

	if msg.TempID != "" {
		if pendingKey, ok := r.pending.Resolve(msg.TempID); ok {
			if r.promote(pendingKey, msg) {
				return pendingKey, ActionPromoted
			}
			// Placeholder vanished (list reseeded); fall through and treat
			// the echo as a fresh arrival in the recorded conversation.
			key = pendingKey
			msg.Conversation = pendingKey
		}
	}

	if msg.ID != 0 && r.contains(key, msg.ID) {
		return key, ActionDuplicate
	}

	msg.TempID = ""
	r.lists[key] = append(r.lists[key], msg)
	return key, ActionAppended
}

func (r *Reconciler) promote(key models.ConversationKey, confirmed models.Message) bool {
	list := r.lists[key]
	for i := range list {
		if list[i].TempID != confirmed.TempID {
			continue
		}
		confirmed.Conversation = key
		confirmed.TempID = ""
		confirmed.State = models.StateConfirmed
		list[i] = confirmed
		return true
	}
	r.log.Warn().
		Str("conversation", string(key)).
		Str("temp_id", confirmed.TempID).
		Msg("echo resolved a pending send but no placeholder was found")
	return false
}

func (r *Reconciler) contains(key models.ConversationKey, id int64) bool {
	for _, m := range r.lists[key] {
		if m.ID == id {
			return true
		}
	}
	return false
}

// AppendLocal adds an optimistic placeholder for an own send.
func (r *Reconciler) AppendLocal(key models.ConversationKey, msg models.Message) {
	r.listsMu.Lock()
	defer r.listsMu.Unlock()

	msg.Conversation = key
	r.lists[key] = append(r.lists[key], msg)
}

// Seed installs fetched history at the head of a conversation's list.
// Messages that arrived live while the fetch was in flight stay after the
// history, deduplicated by durable id.
func (r *Reconciler) Seed(key models.ConversationKey, history []models.Message) {
	r.listsMu.Lock()
	defer r.listsMu.Unlock()

	existing := r.lists[key]
	seen := make(map[int64]struct{}, len(history))
	merged := make([]models.Message, 0, len(history)+len(existing))

	for _, m := range history {
		if m.ID != 0 {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		m.Conversation = key
		merged = append(merged, m)
	}
	for _, m := range existing {
		if m.ID != 0 {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		merged = append(merged, m)
	}
	r.lists[key] = merged
}

// MarkFailed flips the placeholder with tempID to the failed state. It
// reports whether a placeholder was found.
func (r *Reconciler) MarkFailed(key models.ConversationKey, tempID string) bool {
	r.listsMu.Lock()
	defer r.listsMu.Unlock()

	list := r.lists[key]
	for i := range list {
		if list[i].TempID == tempID {
			list[i].State = models.StateFailed
			return true
		}
	}
	return false
}

// Messages returns a copy of a conversation's list in display order.
func (r *Reconciler) Messages(key models.ConversationKey) []models.Message {
	r.listsMu.RLock()
	defer r.listsMu.RUnlock()

	list := r.lists[key]
	out := make([]models.Message, len(list))
	copy(out, list)
	return out
}
