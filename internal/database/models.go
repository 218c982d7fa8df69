package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type User struct {
	Id         string
	Username   string
	Avatar     string
	MutedUsers []string
}

type Conversation struct {
	Id            string
	Participants  []string
	IsGroup       bool
	LastMessageId string
	LastMessageAt *time.Time
	// UnreadCounts is keyed by participant user id.
	UnreadCounts map[string]int
	LastMessage  *Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userId is a member of the conversation.
func (c Conversation) HasParticipant(userId string) bool {
	for _, p := range c.Participants {
		if p == userId {
			return true
		}
	}
	return false
}

type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
}

// Reactions is stored as a JSONB array.
type Reactions []Reaction

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Reactions) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*r = Reactions{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan reactions: unsupported type %T", src)
	}

	var out Reactions
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("scan reactions: %w", err)
	}
	if out == nil {
		out = Reactions{}
	}
	*r = out
	return nil
}

type Message struct {
	Id             string
	ConversationId string
	SenderId       string
	Content        string
	Attachments    []string
	Reactions      Reactions
	ReadBy         []string
	Deleted        bool
	CreatedAt      time.Time
}

type MessageQuery struct {
	ConversationId string
	// Before is the id of the oldest message the caller already has.
	Before string
	Limit  int
}
