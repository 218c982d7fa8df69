package server

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/stats"
)

// ToggleReaction applies userId's emoji to reactions and returns the result.
// A user holds at most one reaction: reacting with the same emoji removes it
// and reacting with a different one replaces it. The input is not modified.
func ToggleReaction(reactions database.Reactions, userId, emoji string) database.Reactions {
	out := make(database.Reactions, 0, len(reactions)+1)
	found := false

	for _, r := range reactions {
		if r.User != userId {
			out = append(out, r)
			continue
		}
		if found {
			// collapse duplicates left by earlier concurrent writes
			continue
		}
		found = true
		if r.Emoji != emoji {
			out = append(out, database.Reaction{User: userId, Emoji: emoji})
		}
	}

	if !found {
		out = append(out, database.Reaction{User: userId, Emoji: emoji})
	}

	return out
}

// handleAddReaction is a read-modify-write on the message's reactions.
// Concurrent toggles by the same user are last-write-wins.
func (cs *ChatServer) handleAddReaction(ctx context.Context, sess Session, em Emitter, ev AddReaction) {
	if sess.UserId == "" {
		em.Reply(ErrorEvent(errUnauthenticated))
		return
	}

	messageId := strings.TrimSpace(ev.MessageId)
	emoji := strings.TrimSpace(ev.Emoji)
	if messageId == "" || emoji == "" {
		em.Reply(ErrorEvent(errReactionInvalid))
		return
	}

	msg, err := cs.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			em.Reply(ErrorEvent(errMessageNotFound))
			return
		}
		cs.log.Printf("GetMessage %q: %v", messageId, err)
		em.Reply(ErrorEvent(errReactionFailed))
		return
	}

	reactions := ToggleReaction(msg.Reactions, sess.UserId, emoji)
	if err := cs.db.UpdateReactions(ctx, msg.Id, reactions); err != nil {
		cs.log.Printf("UpdateReactions %q: %v", msg.Id, err)
		if errors.Is(err, database.ErrNotFound) {
			em.Reply(ErrorEvent(errMessageNotFound))
			return
		}
		em.Reply(ErrorEvent(errReactionFailed))
		return
	}

	em.ToRoom(ChatRoom(msg.ConversationId), ReactionUpdateEvent(msg.Id, ReactionsPayload(reactions)))
	cs.stats.Incr(stats.Reactions)
}
