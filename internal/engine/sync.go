package engine

import (
	"context"
	"fmt"

	"chatsync/internal/models"
	"chatsync/internal/observability"
)

// Bootstrap performs the initial bulk fetch: conversation list, presence
// and the server unread total. Push and poll keep the state current from
// here on.
func (s *Synchronizer) Bootstrap(ctx context.Context) error {
	if err := s.SyncConversations(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := s.SyncPresence(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// SyncConversations re-fetches the conversation list and the server
// unread total, then reconciles both into the view.
func (s *Synchronizer) SyncConversations(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		observability.IncPollCycle("conversations", "error")
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.view.SetConversations(convs)
	s.mu.Unlock()

	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		observability.IncPollCycle("conversations", "error")
		return err
	}
	s.ReconcileUnread(count)

	observability.IncPollCycle("conversations", "ok")
	return nil
}

// SyncMessages fetches the newest history page for a conversation and
// folds it into the ledger. Re-delivery of messages the push channel
// already applied is expected; the ledger makes it harmless.
func (s *Synchronizer) SyncMessages(ctx context.Context, conversationID string) error {
	page, err := s.api.Messages(ctx, conversationID, 0, pageSize)
	if err != nil {
		observability.IncPollCycle("messages", "error")
		return err
	}
	s.ApplySnapshot(page.Content, models.SourcePoll)

	s.mu.Lock()
	s.ledger.Compact(conversationID, historyCap)
	s.mu.Unlock()

	observability.IncPollCycle("messages", "ok")
	return nil
}

// SyncActiveMessages polls the focused conversation, if any.
func (s *Synchronizer) SyncActiveMessages(ctx context.Context) error {
	s.mu.Lock()
	open := s.openConv
	s.mu.Unlock()

	if open == "" {
		return nil
	}
	return s.SyncMessages(ctx, open)
}

// SyncPresence replaces the presence projection from the bulk endpoint.
func (s *Synchronizer) SyncPresence(ctx context.Context) error {
	users, err := s.api.Presence(ctx)
	if err != nil {
		observability.IncPollCycle("presence", "error")
		return err
	}
	s.SetOnlineUsers(users)
	observability.IncPollCycle("presence", "ok")
	return nil
}

// Heartbeat signals liveness to the server. Fire-and-forget: errors are
// swallowed, liveness is best-effort only.
func (s *Synchronizer) Heartbeat(ctx context.Context) {
	_ = s.api.Heartbeat(ctx)
}
