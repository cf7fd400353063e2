package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
	"chatsync/internal/normalize"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func serverMsg(id string, ts time.Time, content string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "C1",
		SenderID:       "U2",
		Content:        content,
		Type:           models.MessageTypeText,
		Status:         models.StatusSent,
		Timestamp:      ts,
	}
}

func pushEvent(msg models.Message) models.SyncEvent {
	return models.SyncEvent{ConversationID: msg.ConversationID, Message: msg, Source: models.SourcePush}
}

func pollEvent(msg models.Message) models.SyncEvent {
	return models.SyncEvent{ConversationID: msg.ConversationID, Message: msg, Source: models.SourcePoll}
}

func TestApplyAcceptsNewMessage(t *testing.T) {
	l := New()

	res := l.Apply(pushEvent(serverMsg("m1", base, "hi")))
	require.True(t, res.Accepted)
	require.True(t, res.New)
	require.Equal(t, 0, res.Position)

	msgs := l.Messages("C1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, base, l.MaxTimestamp("C1"))
}

func TestApplyIsIdempotent(t *testing.T) {
	l := New()
	ev := pushEvent(serverMsg("m1", base, "hi"))

	first := l.Apply(ev)
	require.True(t, first.Accepted)

	for i := 0; i < 5; i++ {
		res := l.Apply(ev)
		assert.False(t, res.Accepted)
		assert.False(t, res.New)
	}
	require.Len(t, l.Messages("C1"), 1)
}

func TestDuplicateRejectedAcrossSources(t *testing.T) {
	l := New()
	msg := serverMsg("m1", base, "hi")

	require.True(t, l.Apply(pushEvent(msg)).Accepted)
	res := l.Apply(pollEvent(msg))
	assert.False(t, res.Accepted)
	require.Len(t, l.Messages("C1"), 1)
}

func TestOrderIndependence(t *testing.T) {
	msgs := []models.Message{
		serverMsg("m1", base.Add(2*time.Second), "b"),
		serverMsg("m2", base, "a"),
		serverMsg("m3", base.Add(5*time.Second), "c"),
		serverMsg("m4", base.Add(2*time.Second), "tie"), // equal ts with m1
	}

	permutations := [][]int{
		{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1},
	}

	var want []string
	for i, perm := range permutations {
		l := New()
		for _, idx := range perm {
			l.Apply(pushEvent(msgs[idx]))
		}
		var got []string
		for _, m := range l.Messages("C1") {
			got = append(got, m.ID)
		}
		if i == 0 {
			want = got
			// timestamp ascending, ties broken by ID
			require.Equal(t, []string{"m2", "m1", "m4", "m3"}, want)
			continue
		}
		assert.Equal(t, want, got, "permutation %v diverged", perm)
	}
}

func TestDoublePathConvergence(t *testing.T) {
	msgs := []models.Message{
		serverMsg("m1", base, "a"),
		serverMsg("m2", base.Add(time.Second), "b"),
		serverMsg("m3", base.Add(2*time.Second), "c"),
	}

	pushOnly := New()
	for _, m := range msgs {
		pushOnly.Apply(pushEvent(m))
	}

	both := New()
	for _, m := range msgs {
		both.Apply(pushEvent(m))
	}
	for _, m := range msgs {
		both.Apply(pollEvent(m))
	}

	assert.Equal(t, pushOnly.Messages("C1"), both.Messages("C1"))
}

func TestStatusUpdateInPlace(t *testing.T) {
	l := New()
	msg := serverMsg("m1", base, "hi")
	require.True(t, l.Apply(pushEvent(msg)).Accepted)

	readCopy := msg
	readCopy.Status = models.StatusRead
	res := l.Apply(pollEvent(readCopy))
	require.True(t, res.Accepted)
	assert.False(t, res.New)
	assert.True(t, res.Updated)

	msgs := l.Messages("C1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestSoftDeleteUpdateInPlace(t *testing.T) {
	l := New()
	msg := serverMsg("m1", base, "hi")
	l.Apply(pushEvent(msg))

	deleted := msg
	deleted.Deleted = true
	res := l.Apply(pollEvent(deleted))
	require.True(t, res.Updated)

	msgs := l.Messages("C1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
}

func TestOptimisticSendMatched(t *testing.T) {
	l := New()
	local := normalize.Local("C1", "U1", "U2", "hello", base)
	res := l.Apply(local)
	require.True(t, res.Accepted)
	require.True(t, res.New)

	confirmed := models.Message{
		ID:             "m9",
		ConversationID: "C1",
		SenderID:       "U1",
		Content:        "hello",
		Type:           models.MessageTypeText,
		Status:         models.StatusSent,
		Timestamp:      base.Add(2 * time.Second),
	}
	res = l.Apply(pollEvent(confirmed))
	require.True(t, res.Accepted)
	assert.False(t, res.New, "replacement must not look like a new message")
	assert.True(t, res.Updated)

	msgs := l.Messages("C1")
	require.Len(t, msgs, 1, "no duplicate bubble")
	assert.Equal(t, "m9", msgs[0].ID)
	assert.False(t, msgs[0].Pending)

	// Expiry afterwards has nothing left to fail.
	assert.Empty(t, l.ExpirePending(base.Add(time.Minute)))
}

func TestOptimisticSendOutsideWindowNotMatched(t *testing.T) {
	l := New()
	l.Apply(normalize.Local("C1", "U1", "U2", "hello", base))

	late := serverMsg("m9", base.Add(MatchWindow+time.Second), "hello")
	late.SenderID = "U1"
	res := l.Apply(pollEvent(late))
	require.True(t, res.New, "outside the window the server message is a distinct entry")
	assert.Len(t, l.Messages("C1"), 2)
}

func TestOptimisticSendExpires(t *testing.T) {
	l := New()
	local := normalize.Local("C1", "U1", "U2", "hello", base)
	l.Apply(local)

	require.Empty(t, l.ExpirePending(base.Add(PendingTimeout-time.Second)))

	failed := l.ExpirePending(base.Add(PendingTimeout + time.Second))
	require.Len(t, failed, 1)
	assert.Equal(t, local.Message.ID, failed[0].ID)

	msgs := l.Messages("C1")
	require.Len(t, msgs, 1, "failed sends are never silently dropped")
	assert.True(t, msgs[0].Failed)
	assert.False(t, msgs[0].Pending)

	// Expiry is one-shot per entry.
	assert.Empty(t, l.ExpirePending(base.Add(time.Hour)))
}

func TestCompactKeepsDedup(t *testing.T) {
	l := New()
	for i := 0; i < 10; i++ {
		l.Apply(pushEvent(serverMsg(fmt.Sprintf("m%02d", i), base.Add(time.Duration(i)*time.Second), "x")))
	}

	l.Compact("C1", 3)
	require.Len(t, l.Messages("C1"), 3)

	// Re-delivery of a compacted message via a poll snapshot must not
	// resurrect it.
	res := l.Apply(pollEvent(serverMsg("m00", base, "x")))
	assert.False(t, res.Accepted)
	assert.Len(t, l.Messages("C1"), 3)
}

func TestSeenSetEviction(t *testing.T) {
	l := New()
	total := seenCap + 10
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("m%04d", i)
		res := l.Apply(pushEvent(serverMsg(id, base.Add(time.Duration(i)*time.Second), "x")))
		require.True(t, res.Accepted, id)
	}

	// The oldest IDs have been evicted from the seen set, but their
	// messages are still indexed, so re-delivery is still rejected.
	res := l.Apply(pushEvent(serverMsg("m0000", base, "x")))
	assert.False(t, res.Accepted)
	require.Len(t, l.Messages("C1"), total)

	l.Compact("C1", 100)
	require.Len(t, l.Messages("C1"), 100)

	// A compacted ID still inside the seen set stays rejected.
	inSeen := fmt.Sprintf("m%04d", total-seenCap) // oldest remembered ID
	res = l.Apply(pushEvent(serverMsg(inSeen, base.Add(time.Duration(total-seenCap)*time.Second), "x")))
	assert.False(t, res.Accepted)

	// Evicted from the seen set and compacted away: genuinely forgotten,
	// so a re-delivery is accepted as new again.
	res = l.Apply(pushEvent(serverMsg("m0000", base, "x")))
	assert.True(t, res.Accepted)
	assert.True(t, res.New)
}

func TestCompactSparesProvisionals(t *testing.T) {
	l := New()
	local := normalize.Local("C1", "U1", "U2", "early", base)
	l.Apply(local)
	for i := 1; i <= 5; i++ {
		l.Apply(pushEvent(serverMsg(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second), "x")))
	}

	l.Compact("C1", 2)
	var ids []string
	for _, m := range l.Messages("C1") {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, local.Message.ID)
}

func TestFailureScopedToConversation(t *testing.T) {
	l := New()
	l.Apply(pushEvent(serverMsg("m1", base, "a")))

	other := serverMsg("m1", base, "a") // same ID, different conversation
	other.ConversationID = "C2"
	res := l.Apply(models.SyncEvent{ConversationID: "C2", Message: other, Source: models.SourcePush})
	require.True(t, res.Accepted, "seen sets are per conversation")
	assert.Len(t, l.Messages("C1"), 1)
	assert.Len(t, l.Messages("C2"), 1)
}

func TestDropForgetsConversation(t *testing.T) {
	l := New()
	l.Apply(pushEvent(serverMsg("m1", base, "a")))
	l.Drop("C1")
	assert.Empty(t, l.Messages("C1"))
}
