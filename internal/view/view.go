// Package view derives the user-facing conversation list from ledger
// activity: summaries sorted by recency, per-conversation unread counts
// and the global unread badge reconciled against the server total.
package view

import (
	"log"
	"sort"
	"sync"

	"chatsync/internal/ledger"
	"chatsync/internal/models"
	"chatsync/internal/observability"
)

type entry struct {
	conv        models.Conversation
	hasMessages bool
	fetchSeq    int
}

// Builder maintains the derived view. All mutation comes from ledger apply
// results and the explicit open/reconcile boundaries; the UI only reads
// snapshots.
type Builder struct {
	mu          sync.Mutex
	currentUser string
	convs       map[string]*entry
	nextSeq     int

	// Server-reported unread total, displayed instead of the local sum
	// after a divergence. The local ledger is never rolled back.
	serverTotal    int
	serverOverride bool
}

// NewBuilder creates a view for the given user.
func NewBuilder(currentUser string) *Builder {
	return &Builder{currentUser: currentUser, convs: make(map[string]*entry)}
}

func (b *Builder) entryFor(conversationID string) *entry {
	e, ok := b.convs[conversationID]
	if !ok {
		e = &entry{conv: models.Conversation{ID: conversationID}, fetchSeq: b.nextSeq}
		b.nextSeq++
		b.convs[conversationID] = e
	}
	return e
}

// SetConversations merges a bulk-fetch page into the view. Conversations
// seen for the first time adopt the server's unread count as their base;
// for known conversations only metadata and recency are refreshed, since
// the local count is reconciled at the conversation-open boundary instead.
// Returns the IDs that were not previously known.
func (b *Builder) SetConversations(convs []models.Conversation) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added []string
	for _, conv := range convs {
		e, ok := b.convs[conv.ID]
		if !ok {
			e = &entry{conv: conv, fetchSeq: b.nextSeq}
			e.hasMessages = !conv.LastMessageTime.IsZero()
			b.nextSeq++
			b.convs[conv.ID] = e
			added = append(added, conv.ID)
			continue
		}
		e.conv.Participants = conv.Participants
		e.conv.ParticipantNames = conv.ParticipantNames
		if conv.LastMessageTime.After(e.conv.LastMessageTime) {
			e.conv.LastMessageTime = conv.LastMessageTime
			e.conv.LastMessageContent = conv.LastMessageContent
			e.hasMessages = true
		}
	}
	return added
}

// Apply folds one ledger apply result into the view. Unread increments by
// one for every accepted new message not authored by the current user
// while its conversation is not the open one; status updates never touch
// unread or recency.
func (b *Builder) Apply(ev models.SyncEvent, res ledger.ApplyResult, openConversation string) {
	if !res.Accepted {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(ev.ConversationID)
	msg := ev.Message

	if msg.Timestamp.After(e.conv.LastMessageTime) || !e.hasMessages {
		e.conv.LastMessageTime = msg.Timestamp
		e.conv.LastMessageContent = msg.Content
		e.hasMessages = true
	}

	if res.New && ev.Source != models.SourceLocal &&
		msg.SenderID != b.currentUser && ev.ConversationID != openConversation {
		e.conv.UnreadCount++
	}
}

// Open zeroes a conversation's unread count. Idempotent; also clears a
// standing server override so the badge reflects local state again.
func (b *Builder) Open(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.convs[conversationID]; ok {
		e.conv.UnreadCount = 0
	}
	b.serverOverride = false
}

// Drop removes a conversation from the view (local delete).
func (b *Builder) Drop(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.convs, conversationID)
}

// ReconcileUnread checks the locally derived total against the
// server-reported one. On mismatch the server wins for the global badge;
// the divergence is logged and counted, never treated as fatal, and
// per-conversation counts stay untouched.
func (b *Builder) ReconcileUnread(serverTotal int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	local := b.localTotalLocked()
	if local == serverTotal {
		b.serverOverride = false
		return
	}
	log.Printf("unread divergence local=%d server=%d, displaying server total", local, serverTotal)
	observability.IncUnreadDivergence()
	b.serverTotal = serverTotal
	b.serverOverride = true
}

// UnreadTotal returns the global badge value.
func (b *Builder) UnreadTotal() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.serverOverride {
		return b.serverTotal
	}
	return b.localTotalLocked()
}

func (b *Builder) localTotalLocked() int {
	total := 0
	for _, e := range b.convs {
		total += e.conv.UnreadCount
	}
	return total
}

// Summaries returns the ordered conversation list: most recent message
// first, conversations without any message in fetch order at the tail.
func (b *Builder) Summaries() []models.ConversationSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]*entry, 0, len(b.convs))
	for _, e := range b.convs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, c := entries[i], entries[j]
		if a.hasMessages != c.hasMessages {
			return a.hasMessages
		}
		if !a.hasMessages {
			return a.fetchSeq < c.fetchSeq
		}
		if !a.conv.LastMessageTime.Equal(c.conv.LastMessageTime) {
			return a.conv.LastMessageTime.After(c.conv.LastMessageTime)
		}
		return a.conv.ID < c.conv.ID
	})

	out := make([]models.ConversationSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.ConversationSummary{
			ID:                 e.conv.ID,
			Participants:       e.conv.Participants,
			ParticipantNames:   e.conv.ParticipantNames,
			LastMessageContent: e.conv.LastMessageContent,
			LastMessageTime:    e.conv.LastMessageTime,
			UnreadCount:        e.conv.UnreadCount,
		})
	}
	return out
}
