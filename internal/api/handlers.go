package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/server"
	"github.com/npezzotti/go-intranet-chat/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type CreateConversationRequest struct {
	RecipientId string `json:"recipientId"`
}

type MuteResponse struct {
	UserId string `json:"userId"`
	Muted  bool   `json:"muted"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Println(errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func notFoundOr500(err error) *ApiError {
	if errors.Is(err, database.ErrNotFound) {
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}

func (s *ChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, NewServiceUnavailableError(fmt.Errorf("ping database: %w", err)))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listUsers returns every other user, flagged with whether the caller has
// muted them.
func (s *ChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	users, err := s.db.ListUsers(r.Context(), id.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	muted, err := s.db.GetMutedUsers(r.Context(), id.UserId)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	resp := make([]types.User, len(users))
	for i, u := range users {
		resp[i] = types.User{
			Id:       u.Id,
			Username: u.Username,
			Avatar:   u.Avatar,
			Muted:    slices.Contains(muted, u.Id),
		}
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *ChatApp) listConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	convs, err := s.db.ListConversations(r.Context(), id.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	senders := newSenderCache(s.db)
	resp := make([]types.Conversation, 0, len(convs))
	for _, conv := range convs {
		c, err := conversationPayload(r.Context(), conv, senders)
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
		resp = append(resp, c)
	}

	s.writeJson(w, http.StatusOK, resp)
}

// createConversation finds or creates the direct conversation between the
// caller and the recipient.
func (s *ChatApp) createConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	recipientId := strings.TrimSpace(req.RecipientId)
	if recipientId == "" || recipientId == id.UserId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.db.GetUser(r.Context(), recipientId); err != nil {
		s.writeError(w, notFoundOr500(err))
		return
	}

	convId, err := s.generateShortId()
	if err != nil {
		s.writeError(w, NewInternalServerError(fmt.Errorf("generate conversation id: %w", err)))
		return
	}

	conv, created, err := s.db.FindOrCreateConversation(r.Context(), database.CreateConversationParams{
		Id:          convId,
		UserId:      id.UserId,
		RecipientId: recipientId,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	resp, err := conversationPayload(r.Context(), conv, newSenderCache(s.db))
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	s.writeJson(w, status, resp)
}

// getMessages pages backwards through a conversation's history. The cursor
// is the id of the oldest message the caller already has.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	conv, ok := s.participantConversation(w, r, id.UserId)
	if !ok {
		return
	}

	limit := defaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			s.writeError(w, NewBadRequestError())
			return
		}
		limit = min(n, maxPageSize)
	}

	messages, err := s.db.GetMessages(r.Context(), database.MessageQuery{
		ConversationId: conv.Id,
		Before:         r.URL.Query().Get("before"),
		Limit:          limit + 1,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	page := types.MessagePage{Messages: []types.Message{}}
	if len(messages) > limit {
		page.HasMore = true
		messages = messages[:limit]
	}

	senders := newSenderCache(s.db)
	for _, msg := range messages {
		sender, err := senders.get(r.Context(), msg.SenderId)
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
		page.Messages = append(page.Messages, server.MessagePayload(msg, sender))
	}

	if page.HasMore {
		page.NextCursor = messages[len(messages)-1].Id
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *ChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	conv, ok := s.participantConversation(w, r, id.UserId)
	if !ok {
		return
	}

	if err := s.db.MarkConversationRead(r.Context(), conv.Id, id.UserId); err != nil {
		s.writeError(w, notFoundOr500(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toggleMute flips whether the caller receives notifications for messages
// from the target user.
func (s *ChatApp) toggleMute(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	targetId := strings.TrimSpace(r.PathValue("userId"))
	if targetId == "" || targetId == id.UserId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.db.GetUser(r.Context(), targetId); err != nil {
		s.writeError(w, notFoundOr500(err))
		return
	}

	muted, err := s.db.ToggleMute(r.Context(), id.UserId, targetId)
	if err != nil {
		s.writeError(w, notFoundOr500(err))
		return
	}

	if err := s.mutes.Invalidate(r.Context(), id.UserId); err != nil {
		s.log.Printf("invalidate mute cache for %q: %v", id.UserId, err)
	}

	s.writeJson(w, http.StatusOK, MuteResponse{UserId: targetId, Muted: muted})
}

// participantConversation loads the conversation named in the path and
// writes a 404 or 403 when the caller cannot see it.
func (s *ChatApp) participantConversation(w http.ResponseWriter, r *http.Request, userId string) (database.Conversation, bool) {
	conversationId := strings.TrimSpace(r.PathValue("conversationId"))
	if conversationId == "" {
		s.writeError(w, NewBadRequestError())
		return database.Conversation{}, false
	}

	conv, err := s.db.GetConversation(r.Context(), conversationId)
	if err != nil {
		s.writeError(w, notFoundOr500(err))
		return database.Conversation{}, false
	}

	if !conv.HasParticipant(userId) {
		s.writeError(w, NewForbiddenError())
		return database.Conversation{}, false
	}

	return conv, true
}

func conversationPayload(ctx context.Context, conv database.Conversation, senders *senderCache) (types.Conversation, error) {
	unread := conv.UnreadCounts
	if unread == nil {
		unread = map[string]int{}
	}

	c := types.Conversation{
		Id:            conv.Id,
		Participants:  conv.Participants,
		LastMessageAt: conv.LastMessageAt,
		UnreadCounts:  unread,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	}

	if conv.LastMessage != nil {
		sender, err := senders.get(ctx, conv.LastMessage.SenderId)
		if err != nil {
			return types.Conversation{}, err
		}
		msg := server.MessagePayload(*conv.LastMessage, sender)
		c.LastMessage = &msg
	}

	return c, nil
}

// senderCache resolves sender display fields once per request.
type senderCache struct {
	db    database.ChatRepository
	users map[string]types.User
}

func newSenderCache(db database.ChatRepository) *senderCache {
	return &senderCache{db: db, users: make(map[string]types.User)}
}

func (c *senderCache) get(ctx context.Context, userId string) (types.User, error) {
	if u, ok := c.users[userId]; ok {
		return u, nil
	}

	sender := types.User{Id: userId}
	u, err := c.db.GetUser(ctx, userId)
	switch {
	case err == nil:
		sender.Username = u.Username
		sender.Avatar = u.Avatar
	case !errors.Is(err, database.ErrNotFound):
		return types.User{}, fmt.Errorf("get user %q: %w", userId, err)
	}

	c.users[userId] = sender
	return sender, nil
}
