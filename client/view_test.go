package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logan496/elearning-chat/internal/models"
)

func TestSetActiveClearsUnread(t *testing.T) {
	dir := NewDirectory()
	view := NewViewSelector(dir)
	key := models.UserKey(7)
	dir.Ensure(key, DisplayInfo{DisplayName: "ana"})
	dir.ApplyPreview(key, models.Message{Content: "hi"}, true)

	_, open := view.Active()
	assert.False(t, open, "nothing is active before the first selection")

	view.SetActive(key)
	active, open := view.Active()
	require.True(t, open)
	assert.Equal(t, key, active)

	conv, _ := dir.Get(key)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestRouteByActiveConversation(t *testing.T) {
	dir := NewDirectory()
	view := NewViewSelector(dir)
	dir.Ensure(models.GeneralKey, DisplayInfo{})
	dir.Ensure(models.UserKey(7), DisplayInfo{})

	view.SetActive(models.GeneralKey)
	assert.Equal(t, RouteLive, view.Route(models.GeneralKey))
	assert.Equal(t, RouteBadge, view.Route(models.UserKey(7)))

	view.ClearActive()
	assert.Equal(t, RouteBadge, view.Route(models.GeneralKey))
}
