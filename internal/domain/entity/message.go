package entity

import "time"

// MessageKind distinguishes ordinary chat text from an admin/bot command.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindCommand MessageKind = "command"
)

// InboundMessage is a single event arriving from the external event bus.
// Immutable after construction.
type InboundMessage struct {
	ID                 string
	SenderID           string
	SenderDisplayName  string
	ConversationID     string
	GroupID            string
	Content            string
	ReceivedAt         time.Time
	Kind               MessageKind
}

// NewInboundMessage validates and constructs an InboundMessage.
func NewInboundMessage(id, senderID, conversationID, content string, receivedAt time.Time, kind MessageKind) (InboundMessage, error) {
	if id == "" {
		return InboundMessage{}, ErrInvalidMessageID
	}
	if senderID == "" {
		return InboundMessage{}, ErrInvalidSenderID
	}
	if conversationID == "" {
		return InboundMessage{}, ErrInvalidConversationID
	}
	return InboundMessage{
		ID:             id,
		SenderID:       senderID,
		ConversationID: conversationID,
		Content:        content,
		ReceivedAt:     receivedAt,
		Kind:           kind,
	}, nil
}

// ContextID is the logical addressing key: the group id if present,
// otherwise the conversation id, otherwise the sender id.
func (m InboundMessage) ContextID() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.SenderID
}

// QueuedMessage extends InboundMessage with scheduling metadata added by
// the per-context queue at ingress. Never mutated after creation.
type QueuedMessage struct {
	InboundMessage
	IsHighPriority bool
	EnqueuedAt     time.Time
}
