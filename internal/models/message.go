package models

import "time"

// DeliveryState tracks a message's progress from optimistic local send to
// server-confirmed record.
type DeliveryState string

const (
	// StatePending means the message was sent but the server echo has not
	// arrived yet; the message has a temp id and no durable id.
	StatePending DeliveryState = "pending"
	// StateConfirmed means the server echo arrived and the message carries
	// its durable id.
	StateConfirmed DeliveryState = "confirmed"
	// StateFailed means no echo arrived within the send timeout. The message
	// stays in the list; retrying is an explicit user action.
	StateFailed DeliveryState = "failed"
)

// Message represents a chat message, either an optimistic placeholder or a
// server-confirmed record.
type Message struct {
	ID           int64           `json:"id,omitempty"`      // server-assigned, 0 while pending
	TempID       string          `json:"temp_id,omitempty"` // client correlation id, cleared on confirmation
	Conversation ConversationKey `json:"conversation"`
	Sender       User            `json:"sender"`
	Content      string          `json:"content"`
	SentAt       time.Time       `json:"sent_at"`
	State        DeliveryState   `json:"state"`
}

// Confirmed reports whether the message carries a durable server id.
func (m *Message) Confirmed() bool {
	return m.State == StateConfirmed && m.ID != 0
}
