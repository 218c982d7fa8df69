package database

import (
	"context"
	"time"
)

type ChatRepository interface {
	Ping() error
	GetUser(ctx context.Context, userId string) (User, error)
	ListUsers(ctx context.Context, excludeId string) ([]User, error)
	GetMutedUsers(ctx context.Context, userId string) ([]string, error)
	ToggleMute(ctx context.Context, userId, targetId string) (bool, error)
	FindOrCreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, bool, error)
	GetConversation(ctx context.Context, conversationId string) (Conversation, error)
	ListConversations(ctx context.Context, userId string) ([]Conversation, error)
	UpdateConversationOnMessage(ctx context.Context, conversationId, messageId, senderId string, at time.Time) (Conversation, error)
	MarkConversationRead(ctx context.Context, conversationId, userId string) error
	CreateMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, messageId string) (Message, error)
	GetMessages(ctx context.Context, q MessageQuery) ([]Message, error)
	UpdateReactions(ctx context.Context, messageId string, reactions Reactions) error
}
