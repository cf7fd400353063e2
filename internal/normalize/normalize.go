// Package normalize converts the three heterogeneous intake shapes (push
// frames, poll snapshot pages, local optimistic sends) into canonical
// models.SyncEvent values. Pure mapping, no I/O; malformed items are
// reported to the caller, never raised past this boundary.
package normalize

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/models"
)

// ProvisionalPrefix marks client-generated message IDs awaiting server
// reconciliation.
const ProvisionalPrefix = "local-"

// Frame normalizes a single raw push frame. The second return is false for
// frames that are not message events (presence, unknown types) or are
// malformed; callers count the drop.
func Frame(raw []byte) (models.SyncEvent, bool) {
	var frame models.PushFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return models.SyncEvent{}, false
	}
	if frame.Type != "message" && frame.Type != "status" {
		return models.SyncEvent{}, false
	}
	if frame.Message == nil {
		return models.SyncEvent{}, false
	}
	return Event(*frame.Message, models.SourcePush)
}

// Presence decodes a presence frame. Returns false for anything else.
func Presence(raw []byte) (models.PresenceUpdate, bool) {
	var frame models.PushFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return models.PresenceUpdate{}, false
	}
	if frame.Type != "presence" || frame.Presence == nil || frame.Presence.UserID == "" {
		return models.PresenceUpdate{}, false
	}
	return *frame.Presence, true
}

// Event validates a decoded message and wraps it as a SyncEvent. A message
// without an ID or conversation ID cannot be deduplicated and is rejected.
func Event(msg models.Message, source models.EventSource) (models.SyncEvent, bool) {
	if msg.ID == "" || msg.ConversationID == "" {
		return models.SyncEvent{}, false
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	return models.SyncEvent{
		ConversationID: msg.ConversationID,
		Message:        msg,
		Source:         source,
	}, true
}

// Snapshot normalizes a poll page element by element, preserving the given
// order. One malformed element never blocks its siblings; the number of
// dropped elements is returned alongside the surviving events.
func Snapshot(msgs []models.Message, source models.EventSource) ([]models.SyncEvent, int) {
	events := make([]models.SyncEvent, 0, len(msgs))
	dropped := 0
	for _, msg := range msgs {
		ev, ok := Event(msg, source)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped
}

// Local builds the optimistic event for a just-submitted send. The message
// carries a provisional client ID and Pending state until a matching
// server message arrives or the match window expires.
func Local(conversationID, senderID, receiverID, content string, now time.Time) models.SyncEvent {
	return models.SyncEvent{
		ConversationID: conversationID,
		Source:         models.SourceLocal,
		Message: models.Message{
			ID:             ProvisionalPrefix + uuid.NewString(),
			ConversationID: conversationID,
			SenderID:       senderID,
			ReceiverID:     receiverID,
			Content:        content,
			Type:           models.MessageTypeText,
			Status:         models.StatusSent,
			Timestamp:      now,
			Pending:        true,
		},
	}
}

// IsProvisional reports whether id is a client-generated provisional ID.
func IsProvisional(id string) bool {
	return len(id) > len(ProvisionalPrefix) && id[:len(ProvisionalPrefix)] == ProvisionalPrefix
}
