package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/stats"
)

// dispatch routes ev to its handler. A panic in a handler is reported to the
// originating connection and never reaches other clients.
func (cs *ChatServer) dispatch(ctx context.Context, sess Session, em Emitter, ev ClientEvent) {
	defer func() {
		if err := recover(); err != nil {
			cs.log.Printf("panic: handle %T from %q: %v", ev, sess.ConnId, err)
			if _, ok := ev.(SendMessage); ok {
				cs.stats.Incr(stats.DeliveryFailures)
				em.Reply(ErrorEvent(errSendFailed))
				return
			}
			em.Reply(ErrorEvent(errInternal))
		}
	}()

	switch ev := ev.(type) {
	case JoinRoom:
		cs.handleJoinRoom(ctx, sess, em, ev)
	case JoinChat:
		cs.handleJoinChat(ctx, sess, em, ev)
	case LeaveChat:
		cs.handleLeaveChat(ctx, sess, em, ev)
	case Typing:
		cs.handleTyping(ctx, sess, em, ev)
	case StopTyping:
		cs.handleStopTyping(ctx, sess, em, ev)
	case SendMessage:
		cs.handleSendMessage(ctx, sess, em, ev)
	case AddReaction:
		cs.handleAddReaction(ctx, sess, em, ev)
	default:
		panic(fmt.Sprintf("unhandled client event %T", ev))
	}
}

// handleJoinRoom re-announces the personal room. Joining anyone else's room
// is ignored.
func (cs *ChatServer) handleJoinRoom(_ context.Context, sess Session, em Emitter, ev JoinRoom) {
	if sess.UserId == "" || ev.UserId != sess.UserId {
		cs.log.Printf("ignoring join_room for %q from %q", ev.UserId, sess.UserId)
		return
	}

	em.Join(UserRoom(sess.UserId))
}

// handleJoinChat subscribes the connection to a conversation room. Only
// participants may join; anyone else is ignored.
func (cs *ChatServer) handleJoinChat(ctx context.Context, sess Session, em Emitter, ev JoinChat) {
	if sess.UserId == "" {
		em.Reply(ErrorEvent(errUnauthenticated))
		return
	}

	conversationId := strings.TrimSpace(ev.ConversationId)
	if conversationId == "" {
		em.Reply(ErrorEvent(errConversationRequired))
		return
	}

	conv, err := cs.db.GetConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			cs.log.Printf("ignoring join_chat for unknown conversation %q from %q", conversationId, sess.UserId)
			return
		}
		cs.log.Printf("GetConversation %q: %v", conversationId, err)
		em.Reply(ErrorEvent(errJoinFailed))
		return
	}

	if !conv.HasParticipant(sess.UserId) {
		cs.log.Printf("ignoring join_chat for %q from non participant %q", conversationId, sess.UserId)
		return
	}

	em.Join(ChatRoom(conversationId))
}

func (cs *ChatServer) handleLeaveChat(_ context.Context, sess Session, em Emitter, ev LeaveChat) {
	conversationId := strings.TrimSpace(ev.ConversationId)
	if conversationId == "" {
		em.Reply(ErrorEvent(errConversationRequired))
		return
	}

	em.Leave(ChatRoom(conversationId))
}

func (cs *ChatServer) handleTyping(_ context.Context, sess Session, em Emitter, ev Typing) {
	if sess.UserId == "" {
		em.Reply(ErrorEvent(errUnauthenticated))
		return
	}

	conversationId := strings.TrimSpace(ev.ConversationId)
	if conversationId == "" {
		em.Reply(ErrorEvent(errConversationRequired))
		return
	}

	username := strings.TrimSpace(ev.Username)
	if username == "" {
		username = sess.Username
	}

	em.ToOthers(ChatRoom(conversationId), TypingEvent(sess.UserId, username))
}

func (cs *ChatServer) handleStopTyping(_ context.Context, sess Session, em Emitter, ev StopTyping) {
	if sess.UserId == "" {
		em.Reply(ErrorEvent(errUnauthenticated))
		return
	}

	conversationId := strings.TrimSpace(ev.ConversationId)
	if conversationId == "" {
		em.Reply(ErrorEvent(errConversationRequired))
		return
	}

	em.ToOthers(ChatRoom(conversationId), StopTypingEvent(sess.UserId))
}
