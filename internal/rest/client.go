// Package rest is the bearer-authenticated JSON client for the platform
// gateway. It only transports data; all reconciliation happens in the
// sync core.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/internal/models"
)

// API is the backend surface consumed by the synchronizer.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, size int) (models.MessagePage, error)
	SendMessage(ctx context.Context, req SendRequest) (models.Message, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, conversationID string) error
	Presence(ctx context.Context) ([]string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	Heartbeat(ctx context.Context) error
}

// SendRequest is the send-message payload; the backend resolves the
// conversation from the receiver.
type SendRequest struct {
	ReceiverID string             `json:"receiverId"`
	Content    string             `json:"content"`
	Type       models.MessageType `json:"type"`
}

// TokenFunc supplies the current bearer token. Tokens are managed
// out-of-band; the client never refreshes them.
type TokenFunc func() string

// Client talks to the chat gateway over HTTP.
type Client struct {
	baseURL string
	userID  string
	token   TokenFunc
	http    *http.Client
}

// NewClient builds a gateway client for one user.
func NewClient(baseURL, userID string, token TokenFunc) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Conversations fetches the user's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	q := url.Values{"userId": {c.userID}}
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", q, nil, &convs); err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	return convs, nil
}

// Messages fetches one page of conversation history. Pages are served
// newest-first.
func (c *Client) Messages(ctx context.Context, conversationID string, page, size int) (models.MessagePage, error) {
	var result models.MessagePage
	q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
	path := "/api/messages/conversation/" + url.PathEscape(conversationID)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &result); err != nil {
		return models.MessagePage{}, fmt.Errorf("fetch messages: %w", err)
	}
	return result, nil
}

// SendMessage submits a message and returns the server-assigned copy.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", nil, req, &msg); err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// UnreadCount returns the server's total unread count for the user.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var count int
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread/count", nil, nil, &count); err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}
	return count, nil
}

// MarkMessageRead marks a single message read.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	path := "/api/messages/" + url.PathEscape(messageID) + "/read"
	if err := c.do(ctx, http.MethodPut, path, nil, nil, nil); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// MarkConversationRead marks a whole conversation read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	q := url.Values{"userId": {c.userID}}
	path := "/api/messages/conversation/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, http.MethodPut, path, q, nil, nil); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// Presence returns the IDs of currently online users.
func (c *Client) Presence(ctx context.Context) ([]string, error) {
	var users []string
	if err := c.do(ctx, http.MethodGet, "/api/chat/presence", nil, nil, &users); err != nil {
		return nil, fmt.Errorf("fetch presence: %w", err)
	}
	return users, nil
}

// DeleteConversation removes the conversation from this user's list. The
// server record survives for the other participant.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	q := url.Values{"userId": {c.userID}}
	path := "/api/chat/conversation/" + url.PathEscape(conversationID)
	if err := c.do(ctx, http.MethodDelete, path, q, nil, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Heartbeat signals liveness. Best-effort; callers swallow the error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/chat/presence/heartbeat", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
