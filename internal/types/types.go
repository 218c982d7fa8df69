package types

import (
	"time"
)

type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Muted    bool   `json:"muted,omitempty"`
}

type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
}

type Message struct {
	Id             string     `json:"id"`
	ConversationId string     `json:"conversationId"`
	Sender         User       `json:"sender"`
	Content        string     `json:"content,omitempty"`
	Attachments    []string   `json:"attachments,omitempty"`
	Reactions      []Reaction `json:"reactions"`
	ReadBy         []string   `json:"readBy"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type Conversation struct {
	Id            string         `json:"id"`
	Participants  []string       `json:"participants"`
	LastMessage   *Message       `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time     `json:"lastMessageAt,omitempty"`
	UnreadCounts  map[string]int `json:"unreadCounts"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
