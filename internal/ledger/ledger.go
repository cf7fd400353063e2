// Package ledger is the authoritative record of which message events have
// been applied, per conversation. It deduplicates across the push and poll
// paths, keeps each conversation's messages totally ordered, and reconciles
// optimistic local sends against their server-confirmed counterparts.
package ledger

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/normalize"
)

const (
	// seenCap bounds the per-conversation set of recently seen message
	// IDs. Count-bound (last 500 IDs), not time-bound: deterministic under
	// clock skew and cheap to test. IDs evicted from the seen set are only
	// forgotten once the message itself has been compacted away.
	seenCap = 500

	// MatchWindow is the maximum timestamp distance between a provisional
	// local send and a server message for the two to be reconciled.
	MatchWindow = 5 * time.Second

	// PendingTimeout is how long a provisional send may stay unmatched
	// before it is marked failed.
	PendingTimeout = 15 * time.Second
)

// ApplyResult reports what a single event application did.
type ApplyResult struct {
	// Accepted is false for exact duplicates, which change nothing.
	Accepted bool
	// New is true when a message entry was appended (not updated in place
	// and not a provisional replacement).
	New bool
	// Updated is true for in-place status updates and provisional
	// replacements.
	Updated bool
	// Position is the index of the affected message in the conversation's
	// ordered list, -1 when nothing was touched.
	Position int
}

type conversation struct {
	messages []models.Message
	index    map[string]int // message ID -> position in messages
	seen     []string       // ring of recently seen server IDs
	seenSet  map[string]struct{}
	maxTS    time.Time
	pending  map[string]time.Time // provisional ID -> submitted at
}

// Ledger tracks applied events for all conversations. Safe for use from
// the push, poll and local-send callbacks; each Apply is atomic.
type Ledger struct {
	mu            sync.Mutex
	conversations map[string]*conversation
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{conversations: make(map[string]*conversation)}
}

func (l *Ledger) conv(id string) *conversation {
	c, ok := l.conversations[id]
	if !ok {
		c = &conversation{
			index:   make(map[string]int),
			seenSet: make(map[string]struct{}),
			pending: make(map[string]time.Time),
		}
		l.conversations[id] = c
	}
	return c
}

// Apply folds one normalized event into the ledger. Duplicates are
// rejected regardless of source; status changes for known IDs update in
// place without reordering; new messages are inserted ordered by
// (timestamp, id) so that arrival order never matters.
func (l *Ledger) Apply(ev models.SyncEvent) ApplyResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.conv(ev.ConversationID)
	msg := ev.Message

	if pos, ok := c.index[msg.ID]; ok {
		return c.updateInPlace(pos, msg)
	}
	if _, ok := c.seenSet[msg.ID]; ok {
		// Seen and already compacted away; nothing to update.
		return ApplyResult{Position: -1}
	}

	if ev.Source == models.SourceLocal {
		pos := c.insert(msg)
		c.pending[msg.ID] = msg.Timestamp
		return ApplyResult{Accepted: true, New: true, Position: pos}
	}

	if pos, ok := c.replacePending(msg); ok {
		c.remember(msg.ID)
		if msg.Timestamp.After(c.maxTS) {
			c.maxTS = msg.Timestamp
		}
		return ApplyResult{Accepted: true, Updated: true, Position: pos}
	}

	pos := c.insert(msg)
	c.remember(msg.ID)
	if msg.Timestamp.After(c.maxTS) {
		c.maxTS = msg.Timestamp
	}
	return ApplyResult{Accepted: true, New: true, Position: pos}
}

// updateInPlace applies a status/deleted change to a known message. A
// repeat delivery with nothing new is the duplicate case.
func (c *conversation) updateInPlace(pos int, msg models.Message) ApplyResult {
	current := &c.messages[pos]
	if current.Status == msg.Status && current.Deleted == msg.Deleted {
		return ApplyResult{Position: pos}
	}
	current.Status = msg.Status
	current.Deleted = msg.Deleted
	return ApplyResult{Accepted: true, Updated: true, Position: pos}
}

// replacePending looks for a provisional send matching a server message by
// sender, content and timestamp proximity. On a match the provisional
// entry is swapped out for the server copy at its ordered position.
func (c *conversation) replacePending(msg models.Message) (int, bool) {
	var matchID string
	var matchAt time.Time
	for id, submitted := range c.pending {
		pos, ok := c.index[id]
		if !ok {
			delete(c.pending, id)
			continue
		}
		p := c.messages[pos]
		if p.Failed || p.SenderID != msg.SenderID || p.Content != msg.Content {
			continue
		}
		delta := msg.Timestamp.Sub(p.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta > MatchWindow {
			continue
		}
		// Oldest matching provisional wins.
		if matchID == "" || submitted.Before(matchAt) {
			matchID, matchAt = id, submitted
		}
	}
	if matchID == "" {
		return -1, false
	}

	c.removeByID(matchID)
	delete(c.pending, matchID)
	return c.insert(msg), true
}

// insert places msg at its ordered position: timestamp ascending, ties
// broken by ID lexical order.
func (c *conversation) insert(msg models.Message) int {
	pos := sort.Search(len(c.messages), func(i int) bool {
		m := c.messages[i]
		if !m.Timestamp.Equal(msg.Timestamp) {
			return m.Timestamp.After(msg.Timestamp)
		}
		return m.ID > msg.ID
	})
	c.messages = append(c.messages, models.Message{})
	copy(c.messages[pos+1:], c.messages[pos:])
	c.messages[pos] = msg
	c.reindex(pos)
	return pos
}

func (c *conversation) removeByID(id string) {
	pos, ok := c.index[id]
	if !ok {
		return
	}
	c.messages = append(c.messages[:pos], c.messages[pos+1:]...)
	delete(c.index, id)
	c.reindex(pos)
}

func (c *conversation) reindex(from int) {
	for i := from; i < len(c.messages); i++ {
		c.index[c.messages[i].ID] = i
	}
}

// remember records a server message ID in the bounded seen set.
func (c *conversation) remember(id string) {
	if _, ok := c.seenSet[id]; ok {
		return
	}
	c.seen = append(c.seen, id)
	c.seenSet[id] = struct{}{}
	if len(c.seen) > seenCap {
		evicted := c.seen[0]
		c.seen = c.seen[1:]
		delete(c.seenSet, evicted)
	}
}

// ExpirePending marks provisional sends older than PendingTimeout as
// failed and returns them. Failed entries stay in the message list; they
// are never silently dropped.
func (l *Ledger) ExpirePending(now time.Time) []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var failed []models.Message
	for _, c := range l.conversations {
		for id, submitted := range c.pending {
			if now.Sub(submitted) < PendingTimeout {
				continue
			}
			delete(c.pending, id)
			pos, ok := c.index[id]
			if !ok {
				continue
			}
			c.messages[pos].Pending = false
			c.messages[pos].Failed = true
			failed = append(failed, c.messages[pos])
		}
	}
	return failed
}

// Messages returns a copy of the ordered message list for a conversation.
func (l *Ledger) Messages(conversationID string) []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// MaxTimestamp reports the highest server timestamp observed for a
// conversation; the zero time when none has been.
func (l *Ledger) MaxTimestamp(conversationID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.conversations[conversationID]; ok {
		return c.maxTS
	}
	return time.Time{}
}

// Compact trims a conversation's in-memory history to at most keep
// messages, dropping the oldest first. Trimmed server IDs stay in the seen
// set, so re-delivery via a poll snapshot does not resurrect them.
// Provisional entries are never compacted away.
func (l *Ledger) Compact(conversationID string, keep int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.conversations[conversationID]
	if !ok || len(c.messages) <= keep {
		return
	}
	cut := len(c.messages) - keep
	retained := make([]models.Message, 0, keep)
	dropped := 0
	for _, m := range c.messages {
		if dropped < cut && !normalize.IsProvisional(m.ID) {
			delete(c.index, m.ID)
			dropped++
			continue
		}
		retained = append(retained, m)
	}
	c.messages = retained
	c.reindex(0)
}

// Drop forgets a conversation entirely (local delete).
func (l *Ledger) Drop(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conversations, conversationID)
}
