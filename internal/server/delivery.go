package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/stats"
	"github.com/npezzotti/go-intranet-chat/internal/types"
)

const previewLength = 80

// handleSendMessage persists a message, updates the conversation aggregate,
// broadcasts the transcript event to the conversation room and notifies
// every other participant who has not muted the sender.
func (cs *ChatServer) handleSendMessage(ctx context.Context, sess Session, em Emitter, ev SendMessage) {
	if sess.UserId == "" {
		em.Reply(ErrorEvent(errUnauthenticated))
		return
	}

	conversationId := strings.TrimSpace(ev.ConversationId)
	if conversationId == "" {
		em.Reply(ErrorEvent(errConversationRequired))
		return
	}

	content := strings.TrimSpace(ev.Content)
	attachments := compactAttachments(ev.Attachments)
	if content == "" && len(attachments) == 0 {
		em.Reply(ErrorEvent(errEmptyMessage))
		return
	}

	msg := database.Message{
		Id:             uuid.NewString(),
		ConversationId: conversationId,
		SenderId:       sess.UserId,
		Content:        content,
		Attachments:    attachments,
		Reactions:      database.Reactions{},
		ReadBy:         []string{},
		CreatedAt:      Now(),
	}

	if err := cs.db.CreateMessage(ctx, msg); err != nil {
		cs.sendFailed(em, fmt.Errorf("create message: %w", err))
		return
	}

	// The message is durable from here on. Later failures are reported to
	// the sender but never undo it.
	conv, err := cs.db.UpdateConversationOnMessage(ctx, conversationId, msg.Id, sess.UserId, msg.CreatedAt)
	orphaned := false
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			cs.sendFailed(em, fmt.Errorf("update conversation %q: %w", conversationId, err))
			return
		}
		cs.log.Printf("orphaned message %q: conversation %q not found", msg.Id, conversationId)
		orphaned = true
	}

	sender, err := cs.senderProfile(ctx, sess)
	if err != nil {
		cs.sendFailed(em, err)
		return
	}

	payload := MessagePayload(msg, sender)
	em.ToRoom(ChatRoom(conversationId), ReceiveMessageEvent(payload))
	cs.stats.Incr(stats.MessagesSent)

	if orphaned {
		return
	}

	cs.notifyParticipants(ctx, em, conv, payload)
}

func (cs *ChatServer) sendFailed(em Emitter, err error) {
	cs.log.Printf("send message: %v", err)
	cs.stats.Incr(stats.DeliveryFailures)
	em.Reply(ErrorEvent(errSendFailed))
}

func (cs *ChatServer) senderProfile(ctx context.Context, sess Session) (types.User, error) {
	sender := types.User{Id: sess.UserId, Username: sess.Username}

	u, err := cs.db.GetUser(ctx, sess.UserId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return sender, nil
		}
		return types.User{}, fmt.Errorf("get sender %q: %w", sess.UserId, err)
	}

	if u.Username != "" {
		sender.Username = u.Username
	}
	sender.Avatar = u.Avatar

	return sender, nil
}

// notifyParticipants checks each recipient's mute list independently so a
// slow or failing lookup for one recipient does not hold up the others.
func (cs *ChatServer) notifyParticipants(ctx context.Context, em Emitter, conv database.Conversation, msg types.Message) {
	preview := Preview(msg.Sender.Username, msg.Content, len(msg.Attachments))

	var wg sync.WaitGroup
	for _, participant := range conv.Participants {
		if participant == msg.Sender.Id {
			continue
		}

		wg.Add(1)
		go func(participant string) {
			defer wg.Done()
			defer func() {
				if err := recover(); err != nil {
					cs.log.Printf("panic: notify %q: %v", participant, err)
				}
			}()

			muted, err := cs.mutes.IsMuted(ctx, participant, msg.Sender.Id)
			if err != nil {
				cs.log.Printf("mute lookup for %q: %v", participant, err)
				return
			}
			if muted {
				return
			}

			em.ToRoom(UserRoom(participant), NotificationEvent(preview, conv.Id, msg.Id))
			cs.stats.Incr(stats.NotificationsSent)
		}(participant)
	}

	wg.Wait()
}

// Preview is the short text carried by a chat_message notification.
func Preview(username, content string, attachments int) string {
	if content == "" {
		switch attachments {
		case 0:
			return username
		case 1:
			return username + " sent an attachment"
		default:
			return fmt.Sprintf("%s sent %d attachments", username, attachments)
		}
	}

	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) > previewLength {
		content = string([]rune(content)[:previewLength]) + "..."
	}

	return username + ": " + content
}

func compactAttachments(attachments []string) []string {
	out := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MessagePayload is the wire form of a stored message with the sender's
// display fields attached.
func MessagePayload(msg database.Message, sender types.User) types.Message {
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}

	return types.Message{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Sender:         sender,
		Content:        msg.Content,
		Attachments:    msg.Attachments,
		Reactions:      ReactionsPayload(msg.Reactions),
		ReadBy:         readBy,
		CreatedAt:      msg.CreatedAt.In(time.UTC),
	}
}

func ReactionsPayload(reactions database.Reactions) []types.Reaction {
	out := make([]types.Reaction, len(reactions))
	for i, r := range reactions {
		out[i] = types.Reaction{User: r.User, Emoji: r.Emoji}
	}
	return out
}
