package models

import "time"

// Conversation is a direct-message thread between exactly two users, as
// returned by the backend conversation list.
type Conversation struct {
	ID                 string            `json:"id"`
	Participants       []string          `json:"participants"`
	ParticipantNames   map[string]string `json:"participantNames,omitempty"`
	LastMessageContent string            `json:"lastMessageContent,omitempty"`
	LastMessageTime    time.Time         `json:"lastMessageTime"`
	UnreadCount        int               `json:"unreadCount"`
}

// ConversationSummary is the derived per-conversation view the UI renders:
// backend metadata merged with locally reconciled recency and unread state.
type ConversationSummary struct {
	ID                 string            `json:"id"`
	Participants       []string          `json:"participants"`
	ParticipantNames   map[string]string `json:"participantNames,omitempty"`
	LastMessageContent string            `json:"lastMessageContent,omitempty"`
	LastMessageTime    time.Time         `json:"lastMessageTime"`
	UnreadCount        int               `json:"unreadCount"`
}

// MessagePage is one page of conversation history. The backend serves
// newest-first pages; consumers reverse Content for display order.
type MessagePage struct {
	Content       []Message `json:"content"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int       `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
}
