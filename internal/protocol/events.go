package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/logan496/elearning-chat/internal/models"
)

// Event names exchanged with the chat server.
const (
	// Client -> Server
	EventSendGeneral = "message:general"
	EventSendDirect  = "message:direct"

	// Server -> Client
	EventGeneralNew = "message:general:new"
	EventDirectNew  = "message:direct:new"
	EventDirectSent = "message:direct:sent" // echo of an own direct send
)

// Envelope wraps every frame with an event name.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// GeneralSend is the payload of a message to the shared room.
type GeneralSend struct {
	Content string `json:"content"`
	TempID  string `json:"tempId"`
}

// DirectSend is the payload of a one-to-one message.
type DirectSend struct {
	RecipientID int64  `json:"recipientId"`
	Content     string `json:"content"`
	TempID      string `json:"tempId"`
}

// InboundMessage is the server's message shape, shared by live events and the
// history REST endpoints. TempID is present only on echoes of the receiving
// socket's own sends.
type InboundMessage struct {
	ID        int64        `json:"id"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	Sender    *models.User `json:"sender"`
	Recipient *models.User `json:"recipient,omitempty"`
	TempID    string       `json:"tempId,omitempty"`
}

// ConversationEntry is one element of the history conversation list.
type ConversationEntry struct {
	User        models.User     `json:"user"`
	LastMessage *InboundMessage `json:"lastMessage,omitempty"`
	UnreadCount int             `json:"unreadCount,omitempty"`
}

var (
	ErrMissingSender  = errors.New("inbound message has no sender")
	ErrMissingContent = errors.New("inbound message has no content")
)

// Validate enforces the malformed-frame rule: a frame without a sender or
// content is dropped by the caller, never propagated.
func (m *InboundMessage) Validate() error {
	if m.Sender == nil || m.Sender.ID == 0 {
		return ErrMissingSender
	}
	if m.Content == "" {
		return ErrMissingContent
	}
	return nil
}

// ToModel converts the wire shape to a domain message bound to a conversation.
func (m *InboundMessage) ToModel(key models.ConversationKey) models.Message {
	msg := models.Message{
		ID:           m.ID,
		TempID:       m.TempID,
		Conversation: key,
		Content:      m.Content,
		SentAt:       m.CreatedAt,
		State:        models.StateConfirmed,
	}
	if m.Sender != nil {
		msg.Sender = *m.Sender
	}
	return msg
}

// NewEnvelope creates an envelope for the given event and payload.
func NewEnvelope(event string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: raw}, nil
}

// ParseEnvelope parses a raw frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, errors.New("frame has no event name")
	}
	return &env, nil
}
