package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetUser(ctx context.Context, userId string) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) ListUsers(ctx context.Context, excludeId string) ([]User, error) {
	args := m.Called(ctx, excludeId)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetMutedUsers(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(ctx, userId)
	if muted, ok := args.Get(0).([]string); ok {
		return muted, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ToggleMute(ctx context.Context, userId, targetId string) (bool, error) {
	args := m.Called(ctx, userId, targetId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) FindOrCreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, bool, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Conversation), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) GetConversation(ctx context.Context, conversationId string) (Conversation, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) ListConversations(ctx context.Context, userId string) ([]Conversation, error) {
	args := m.Called(ctx, userId)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) UpdateConversationOnMessage(ctx context.Context, conversationId, messageId, senderId string, at time.Time) (Conversation, error) {
	args := m.Called(ctx, conversationId, messageId, senderId, at)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) MarkConversationRead(ctx context.Context, conversationId, userId string) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	args := m.Called(ctx, q)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) UpdateReactions(ctx context.Context, messageId string, reactions Reactions) error {
	args := m.Called(ctx, messageId, reactions)
	return args.Error(0)
}
