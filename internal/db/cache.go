package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/logan496/elearning-chat/internal/models"
)

// Cache is the client-side sqlite store. It keeps the conversation directory
// and confirmed messages across sessions so the sidebar renders before the
// first history fetch completes.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	c := &Cache{db: conn}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			is_general INTEGER NOT NULL DEFAULT 0,
			preview_text TEXT NOT NULL DEFAULT '',
			preview_at DATETIME,
			unread_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS messages (
			conversation_key TEXT NOT NULL,
			message_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			sender_name TEXT NOT NULL,
			sender_avatar TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			sent_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_key, message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_key, sent_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// UpsertConversation adds or refreshes a sidebar entry.
func (c *Cache) UpsertConversation(conv models.Conversation) error {
	_, err := c.db.Exec(`
		INSERT INTO conversations (key, display_name, avatar, is_general, preview_text, preview_at, unread_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			display_name = excluded.display_name,
			avatar = excluded.avatar,
			preview_text = excluded.preview_text,
			preview_at = excluded.preview_at,
			unread_count = excluded.unread_count
	`, string(conv.Key), conv.DisplayName, conv.Avatar, conv.IsGeneral,
		conv.PreviewText, conv.PreviewAt, conv.UnreadCount)
	return err
}

// Conversations returns cached sidebar entries, general room first, then
// direct conversations in the order they were first stored.
func (c *Cache) Conversations() ([]models.Conversation, error) {
	rows, err := c.db.Query(`
		SELECT key, display_name, avatar, is_general, preview_text, preview_at, unread_count
		FROM conversations ORDER BY is_general DESC, rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var key string
		var previewAt sql.NullTime
		if err := rows.Scan(&key, &conv.DisplayName, &conv.Avatar, &conv.IsGeneral,
			&conv.PreviewText, &previewAt, &conv.UnreadCount); err != nil {
			return nil, err
		}
		conv.Key = models.ConversationKey(key)
		if previewAt.Valid {
			conv.PreviewAt = previewAt.Time
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SaveMessage caches a confirmed message. Pending placeholders are never
// written; they only exist in memory until the echo or the timeout.
func (c *Cache) SaveMessage(msg models.Message) error {
	if !msg.Confirmed() {
		return fmt.Errorf("refusing to cache unconfirmed message in %s", msg.Conversation)
	}
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO messages
			(conversation_key, message_id, sender_id, sender_name, sender_avatar, content, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(msg.Conversation), msg.ID, msg.Sender.ID, msg.Sender.Username,
		msg.Sender.Avatar, msg.Content, msg.SentAt)
	return err
}

// RecentMessages returns up to limit cached messages for a conversation in
// chronological order.
func (c *Cache) RecentMessages(key models.ConversationKey, limit int) ([]models.Message, error) {
	rows, err := c.db.Query(`
		SELECT message_id, sender_id, sender_name, sender_avatar, content, sent_at
		FROM messages
		WHERE conversation_key = ?
		ORDER BY sent_at DESC LIMIT ?
	`, string(key), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg := models.Message{Conversation: key, State: models.StateConfirmed}
		if err := rows.Scan(&msg.ID, &msg.Sender.ID, &msg.Sender.Username,
			&msg.Sender.Avatar, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, rows.Err()
}

// ClearMessages drops the cached messages of one conversation.
func (c *Cache) ClearMessages(key models.ConversationKey) error {
	_, err := c.db.Exec(`DELETE FROM messages WHERE conversation_key = ?`, string(key))
	return err
}
