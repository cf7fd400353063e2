package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
)

func TestFrameMessage(t *testing.T) {
	raw := []byte(`{"type":"message","message":{"id":"m1","conversationId":"C1","senderId":"U2","content":"hi","timestamp":"2025-06-01T12:00:00Z"}}`)

	ev, ok := Frame(raw)
	require.True(t, ok)
	assert.Equal(t, "C1", ev.ConversationID)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, models.SourcePush, ev.Source)
	assert.Equal(t, models.MessageTypeText, ev.Message.Type, "missing type defaults to TEXT")
	assert.Equal(t, models.StatusSent, ev.Message.Status, "missing status defaults to SENT")
}

func TestFrameStatusUpdate(t *testing.T) {
	raw := []byte(`{"type":"status","message":{"id":"m1","conversationId":"C1","senderId":"U2","status":"READ"}}`)

	ev, ok := Frame(raw)
	require.True(t, ok)
	assert.Equal(t, models.StatusRead, ev.Message.Status)
}

func TestFrameMalformed(t *testing.T) {
	cases := map[string][]byte{
		"bad json":        []byte(`{`),
		"no message":      []byte(`{"type":"message"}`),
		"missing id":      []byte(`{"type":"message","message":{"conversationId":"C1"}}`),
		"missing conv id": []byte(`{"type":"message","message":{"id":"m1"}}`),
		"unknown type":    []byte(`{"type":"typing","message":{"id":"m1","conversationId":"C1"}}`),
	}
	for name, raw := range cases {
		_, ok := Frame(raw)
		assert.False(t, ok, name)
	}
}

func TestPresence(t *testing.T) {
	raw := []byte(`{"type":"presence","presence":{"userId":"U2","online":true}}`)
	p, ok := Presence(raw)
	require.True(t, ok)
	assert.Equal(t, "U2", p.UserID)
	assert.True(t, p.Online)

	_, ok = Presence([]byte(`{"type":"presence","presence":{"online":true}}`))
	assert.False(t, ok, "presence without user id is dropped")
}

func TestSnapshotIsolatesMalformedElements(t *testing.T) {
	msgs := []models.Message{
		{ID: "m1", ConversationID: "C1", SenderID: "U2", Content: "a"},
		{ConversationID: "C1", Content: "no id"},
		{ID: "m3", ConversationID: "C1", SenderID: "U2", Content: "c"},
		{ID: "m4", Content: "no conversation"},
	}

	events, dropped := Snapshot(msgs, models.SourcePoll)
	assert.Equal(t, 2, dropped)
	require.Len(t, events, 2)
	assert.Equal(t, "m1", events[0].Message.ID, "array order preserved")
	assert.Equal(t, "m3", events[1].Message.ID)
	for _, ev := range events {
		assert.Equal(t, models.SourcePoll, ev.Source)
	}
}

func TestLocalProvisional(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := Local("C1", "U1", "U2", "hello", now)

	assert.Equal(t, models.SourceLocal, ev.Source)
	assert.True(t, IsProvisional(ev.Message.ID))
	assert.True(t, ev.Message.Pending)
	assert.Equal(t, "U1", ev.Message.SenderID)
	assert.Equal(t, now, ev.Message.Timestamp)

	other := Local("C1", "U1", "U2", "hello", now)
	assert.NotEqual(t, ev.Message.ID, other.Message.ID)
}

func TestIsProvisional(t *testing.T) {
	assert.True(t, IsProvisional("local-abc"))
	assert.False(t, IsProvisional("m1"))
	assert.False(t, IsProvisional("local-"))
}
