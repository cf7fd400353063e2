// Package engine ties the normalizer, ledger and view together behind the
// interface the UI consumes: read-only snapshots, change subscriptions,
// local send intents and the mark-opened boundary. The engine owns all
// sync state; every mutation funnels through event intake under one lock,
// and no I/O happens while the lock is held.
package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"chatsync/internal/ledger"
	"chatsync/internal/models"
	"chatsync/internal/normalize"
	"chatsync/internal/observability"
	"chatsync/internal/rest"
	"chatsync/internal/view"
)

// historyCap bounds per-conversation in-memory history. Older messages
// are compacted; their IDs stay in the ledger's seen set.
const historyCap = 200

// pageSize matches the backend's default history page.
const pageSize = 50

// Synchronizer is the conversation state synchronizer for one user.
type Synchronizer struct {
	userID string
	api    rest.API

	mu       sync.Mutex
	ledger   *ledger.Ledger
	view     *view.Builder
	presence map[string]bool
	openConv string

	// generation invalidates stale async callbacks after Stop or token
	// teardown. Bumped under mu; callbacks compare before mutating.
	generation uint64
	stopped    bool

	nextListener  int
	convListeners map[int]func()
	msgListeners  map[string]map[int]func()
}

// New builds a synchronizer for the given user on top of the gateway API.
func New(userID string, api rest.API) *Synchronizer {
	return &Synchronizer{
		userID:        userID,
		api:           api,
		ledger:        ledger.New(),
		view:          view.NewBuilder(userID),
		presence:      make(map[string]bool),
		convListeners: make(map[int]func()),
		msgListeners:  make(map[string]map[int]func()),
	}
}

// Generation returns the current callback generation.
func (s *Synchronizer) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Stop invalidates all outstanding async callbacks. Events arriving after
// Stop are no-ops.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.generation++
	s.mu.Unlock()
}

func (s *Synchronizer) live(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && s.generation == generation
}

// ApplyPush handles one raw push frame: message and status frames go into
// the ledger, presence frames update the live projection, anything else
// is dropped and counted.
func (s *Synchronizer) ApplyPush(raw []byte) {
	if ev, ok := normalize.Frame(raw); ok {
		s.applyEvent(ev)
		return
	}
	if p, ok := normalize.Presence(raw); ok {
		s.SetPresence(p)
		return
	}
	observability.IncMalformed(string(models.SourcePush))
}

// ApplySnapshot folds a poll page into the ledger. Malformed elements are
// dropped individually; siblings still apply.
func (s *Synchronizer) ApplySnapshot(msgs []models.Message, source models.EventSource) {
	events, dropped := normalize.Snapshot(msgs, source)
	for i := 0; i < dropped; i++ {
		observability.IncMalformed(string(source))
	}
	for _, ev := range events {
		s.applyEvent(ev)
	}
}

func (s *Synchronizer) applyEvent(ev models.SyncEvent) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	res := s.ledger.Apply(ev)
	s.view.Apply(ev, res, s.openConv)
	openConv := s.openConv
	generation := s.generation
	s.mu.Unlock()

	switch {
	case !res.Accepted:
		observability.IncSyncEvent(string(ev.Source), "duplicate")
	case res.New:
		observability.IncSyncEvent(string(ev.Source), "accepted")
	default:
		observability.IncSyncEvent(string(ev.Source), "updated")
	}
	if !res.Accepted {
		return
	}

	// A new message for the open conversation is read the moment it
	// lands; tell the server so its unread total stays aligned.
	if res.New && ev.Source != models.SourceLocal &&
		ev.ConversationID == openConv && ev.Message.SenderID != s.userID {
		go func() {
			if !s.live(generation) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.api.MarkConversationRead(ctx, ev.ConversationID); err != nil {
				log.Printf("mark read after push failed conv=%s: %v", ev.ConversationID, err)
			}
		}()
	}

	s.notifyConversations()
	s.notifyMessages(ev.ConversationID)
}

// Send submits a local message. The returned provisional entry is already
// visible in the message list; it is replaced in place once the server
// confirms, or marked failed after the pending timeout.
func (s *Synchronizer) Send(ctx context.Context, conversationID, receiverID, content string) (models.Message, error) {
	ev := normalize.Local(conversationID, s.userID, receiverID, content, time.Now())
	s.applyEvent(ev)

	generation := s.Generation()
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		msg, err := s.api.SendMessage(sendCtx, rest.SendRequest{
			ReceiverID: receiverID,
			Content:    content,
			Type:       models.MessageTypeText,
		})
		if err != nil {
			// Leave the provisional entry for the expiry pass.
			log.Printf("send failed conv=%s: %v", conversationID, err)
			return
		}
		if !s.live(generation) {
			return
		}
		if confirmed, ok := normalize.Event(msg, models.SourcePoll); ok {
			s.applyEvent(confirmed)
		}
	}()

	time.AfterFunc(ledger.PendingTimeout+time.Second, func() {
		if s.live(generation) {
			s.ExpirePending(time.Now())
		}
	})

	return ev.Message, nil
}

// ExpirePending marks overdue provisional sends as failed and notifies
// their conversations.
func (s *Synchronizer) ExpirePending(now time.Time) {
	s.mu.Lock()
	failed := s.ledger.ExpirePending(now)
	s.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	for _, msg := range failed {
		observability.IncFailedSend()
		log.Printf("send expired unconfirmed conv=%s provisional=%s", msg.ConversationID, msg.ID)
		s.notifyMessages(msg.ConversationID)
	}
	s.notifyConversations()
}

// MarkOpened records the conversation as the focused one and zeroes its
// unread count. Idempotent; also informs the server and refreshes the
// global badge.
func (s *Synchronizer) MarkOpened(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.openConv = conversationID
	s.view.Open(conversationID)
	s.mu.Unlock()
	s.notifyConversations()

	if err := s.api.MarkConversationRead(ctx, conversationID); err != nil {
		return err
	}
	if count, err := s.api.UnreadCount(ctx); err == nil {
		s.ReconcileUnread(count)
	}
	return nil
}

// ClearOpen drops conversation focus; subsequent messages count as unread
// again.
func (s *Synchronizer) ClearOpen() {
	s.mu.Lock()
	s.openConv = ""
	s.mu.Unlock()
}

// DeleteConversation removes the conversation locally and from this
// user's server-side list. The other participant keeps their copy.
func (s *Synchronizer) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.api.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	s.ledger.Drop(conversationID)
	s.view.Drop(conversationID)
	if s.openConv == conversationID {
		s.openConv = ""
	}
	s.mu.Unlock()
	s.notifyConversations()
	return nil
}

// ReconcileUnread applies the server-reported unread total.
func (s *Synchronizer) ReconcileUnread(serverTotal int) {
	s.mu.Lock()
	s.view.ReconcileUnread(serverTotal)
	s.mu.Unlock()
	s.notifyConversations()
}

// SetPresence applies one presence transition.
func (s *Synchronizer) SetPresence(p models.PresenceUpdate) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if p.Online {
		s.presence[p.UserID] = true
	} else {
		delete(s.presence, p.UserID)
	}
	s.mu.Unlock()
	s.notifyConversations()
}

// SetOnlineUsers replaces the presence projection from a bulk fetch.
func (s *Synchronizer) SetOnlineUsers(userIDs []string) {
	s.mu.Lock()
	s.presence = make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		s.presence[id] = true
	}
	s.mu.Unlock()
	s.notifyConversations()
}

// Conversations returns the derived conversation list.
func (s *Synchronizer) Conversations() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Summaries()
}

// Messages returns the ordered message list for one conversation.
func (s *Synchronizer) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Messages(conversationID)
}

// UnreadTotal returns the global unread badge value.
func (s *Synchronizer) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.UnreadTotal()
}

// Online reports whether a user is currently online.
func (s *Synchronizer) Online(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID]
}

// OnlineUsers lists currently online user IDs, sorted.
func (s *Synchronizer) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.presence))
	for id := range s.presence {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
