package client

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan496/elearning-chat/internal/models"
)

func newTestReconciler() (*Reconciler, *PendingTracker) {
	pending := NewPendingTracker()
	return NewReconciler(pending, zerolog.Nop()), pending
}

func confirmed(id int64, key models.ConversationKey, sender models.User, content string) models.Message {
	return models.Message{
		ID:           id,
		Conversation: key,
		Sender:       sender,
		Content:      content,
		SentAt:       time.Now(),
		State:        models.StateConfirmed,
	}
}

func TestIngestPromotesPlaceholderInPlace(t *testing.T) {
	recon, pending := newTestReconciler()
	self := models.User{ID: 1, Username: "me"}

	tempID := pending.Begin(models.GeneralKey, time.Now())
	recon.AppendLocal(models.GeneralKey, models.Message{
		TempID:  tempID,
		Sender:  self,
		Content: "hi",
		State:   models.StatePending,
	})

	echo := confirmed(42, models.GeneralKey, self, "hi")
	echo.TempID = tempID

	key, action := recon.Ingest(echo)
	assert.Equal(t, models.GeneralKey, key)
	assert.Equal(t, ActionPromoted, action)

	list := recon.Messages(models.GeneralKey)
	require.Len(t, list, 1, "promotion must not grow the list")
	assert.Equal(t, int64(42), list[0].ID)
	assert.Equal(t, models.StateConfirmed, list[0].State)
	assert.Empty(t, list[0].TempID, "the correlation id is used exactly once")
}

func TestIngestKeepsSlotOrderOnPromotion(t *testing.T) {
	recon, pending := newTestReconciler()
	self := models.User{ID: 1, Username: "me"}
	other := models.User{ID: 2, Username: "ana"}

	tempID := pending.Begin(models.GeneralKey, time.Now())
	recon.AppendLocal(models.GeneralKey, models.Message{TempID: tempID, Sender: self, Content: "first", State: models.StatePending})
	_, action := recon.Ingest(confirmed(10, models.GeneralKey, other, "second"))
	require.Equal(t, ActionAppended, action)

	echo := confirmed(11, models.GeneralKey, self, "first")
	echo.TempID = tempID
	_, action = recon.Ingest(echo)
	require.Equal(t, ActionPromoted, action)

	list := recon.Messages(models.GeneralKey)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Content, "the placeholder keeps its slot")
	assert.Equal(t, "second", list[1].Content)
}

func TestIngestDeduplicatesByDurableID(t *testing.T) {
	recon, _ := newTestReconciler()
	sender := models.User{ID: 2, Username: "ana"}

	msg := confirmed(42, models.GeneralKey, sender, "hello")
	_, action := recon.Ingest(msg)
	require.Equal(t, ActionAppended, action)

	_, action = recon.Ingest(msg)
	assert.Equal(t, ActionDuplicate, action)
	assert.Len(t, recon.Messages(models.GeneralKey), 1)
}

func TestIngestAppendsInArrivalOrder(t *testing.T) {
	recon, _ := newTestReconciler()
	sender := models.User{ID: 2, Username: "ana"}

	// A later arrival carries an earlier server timestamp; arrival order
	// still wins, the list is never re-sorted.
	first := confirmed(1, models.GeneralKey, sender, "first")
	first.SentAt = time.Now()
	second := confirmed(2, models.GeneralKey, sender, "second")
	second.SentAt = first.SentAt.Add(-time.Hour)

	recon.Ingest(first)
	recon.Ingest(second)

	list := recon.Messages(models.GeneralKey)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Content)
	assert.Equal(t, "second", list[1].Content)
}

func TestDirectKeySelfEcho(t *testing.T) {
	self := models.User{ID: 1, Username: "me"}
	other := models.User{ID: 7, Username: "ana"}

	// An echo of an own send lands in the counterpart's conversation.
	key, ok := DirectKey(self.ID, self, &other)
	require.True(t, ok)
	assert.Equal(t, models.UserKey(7), key)

	// An inbound message from the counterpart lands there too.
	key, ok = DirectKey(self.ID, other, &self)
	require.True(t, ok)
	assert.Equal(t, models.UserKey(7), key)

	// An own echo with no recipient cannot be routed.
	_, ok = DirectKey(self.ID, self, nil)
	assert.False(t, ok)
}

func TestSeedKeepsLiveArrivals(t *testing.T) {
	recon, _ := newTestReconciler()
	sender := models.User{ID: 2, Username: "ana"}
	key := models.UserKey(2)

	// A live message arrives while the history fetch is in flight.
	live := confirmed(30, key, sender, "live")
	recon.Ingest(live)

	history := []models.Message{
		confirmed(10, key, sender, "old-1"),
		confirmed(20, key, sender, "old-2"),
		confirmed(30, key, sender, "live"), // also present in history
	}
	recon.Seed(key, history)

	list := recon.Messages(key)
	require.Len(t, list, 3)
	assert.Equal(t, int64(10), list[0].ID)
	assert.Equal(t, int64(20), list[1].ID)
	assert.Equal(t, int64(30), list[2].ID)
}

func TestSeedKeepsPendingPlaceholders(t *testing.T) {
	recon, pending := newTestReconciler()
	self := models.User{ID: 1, Username: "me"}
	key := models.UserKey(2)

	tempID := pending.Begin(key, time.Now())
	recon.AppendLocal(key, models.Message{TempID: tempID, Sender: self, Content: "mine", State: models.StatePending})

	recon.Seed(key, []models.Message{confirmed(10, key, models.User{ID: 2}, "old")})

	list := recon.Messages(key)
	require.Len(t, list, 2)
	assert.Equal(t, int64(10), list[0].ID)
	assert.Equal(t, models.StatePending, list[1].State)
}

func TestMarkFailed(t *testing.T) {
	recon, pending := newTestReconciler()
	key := models.GeneralKey

	tempID := pending.Begin(key, time.Now())
	recon.AppendLocal(key, models.Message{TempID: tempID, Content: "hi", State: models.StatePending})

	require.True(t, recon.MarkFailed(key, tempID))
	assert.Equal(t, models.StateFailed, recon.Messages(key)[0].State)

	assert.False(t, recon.MarkFailed(key, "unknown"))
}
