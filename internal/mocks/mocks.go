package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/models"
	"chatsync/internal/rest"
	"chatsync/internal/transport"
)

type APIMock struct {
	mock.Mock
}

func (m *APIMock) Conversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *APIMock) Messages(ctx context.Context, conversationID string, page, size int) (models.MessagePage, error) {
	args := m.Called(ctx, conversationID, page, size)
	var result models.MessagePage
	if val := args.Get(0); val != nil {
		result = val.(models.MessagePage)
	}
	return result, args.Error(1)
}

func (m *APIMock) SendMessage(ctx context.Context, req rest.SendRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIMock) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *APIMock) MarkMessageRead(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *APIMock) MarkConversationRead(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *APIMock) Presence(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	var users []string
	if val := args.Get(0); val != nil {
		users = val.([]string)
	}
	return users, args.Error(1)
}

func (m *APIMock) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *APIMock) Heartbeat(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type PushMock struct {
	mock.Mock

	Handler transport.Handler
}

func (m *PushMock) Connect(ctx context.Context, token string, h transport.Handler) error {
	m.Handler = h
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *PushMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
