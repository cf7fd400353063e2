package models

import "time"

// MessageType distinguishes message payload kinds. Only TEXT is rendered
// today; other kinds pass through the sync core untouched.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

// MessageStatus tracks server-side delivery progress.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// Message is a single chat message as held by the sync core. IDs are
// opaque server-assigned strings; locally originated messages carry a
// provisional client ID until reconciled.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId,omitempty"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	Deleted        bool          `json:"deleted,omitempty"`

	// Client-only optimistic-send markers, never set on server messages.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// EventSource identifies which path delivered an event into the ledger.
type EventSource string

const (
	SourcePush  EventSource = "PUSH"
	SourcePoll  EventSource = "POLL"
	SourceLocal EventSource = "LOCAL"
)

// SyncEvent is the canonical normalized event applied to the ledger.
// All three intake paths (push frame, poll snapshot, local send) reduce
// to this shape.
type SyncEvent struct {
	ConversationID string      `json:"conversationId"`
	Message        Message     `json:"message"`
	Source         EventSource `json:"source"`
}

// PushFrame is the wire envelope delivered on the push channel.
type PushFrame struct {
	Type     string          `json:"type"`
	Message  *Message        `json:"message,omitempty"`
	Presence *PresenceUpdate `json:"presence,omitempty"`
}

// PresenceUpdate is a broadcast online/offline transition. Presence is a
// live projection only; it has no persistence.
type PresenceUpdate struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}
