package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	defaultMessageLimit = 20

	messageColumns = "id, conversation_id, sender_id, content, attachments, reactions, read_by, deleted, created_at"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type CreateConversationParams struct {
	Id          string
	UserId      string
	RecipientId string
}

// PairKey normalizes a direct conversation's participants so that (a, b) and
// (b, a) map to the same key.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (db *PgChatRepository) GetUser(ctx context.Context, userId string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, avatar, muted_users FROM users WHERE id = $1",
		userId,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.Avatar, pq.Array(&u.MutedUsers))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return u, err
}

func (db *PgChatRepository) ListUsers(ctx context.Context, excludeId string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, username, avatar, muted_users FROM users WHERE id <> $1 ORDER BY username",
		excludeId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.Avatar, pq.Array(&u.MutedUsers)); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) GetMutedUsers(ctx context.Context, userId string) ([]string, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT muted_users FROM users WHERE id = $1", userId)

	var muted []string
	err := row.Scan(pq.Array(&muted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return muted, err
}

// ToggleMute adds targetId to userId's mute list, or removes it when already
// present, and reports whether the target is muted afterwards.
func (db *PgChatRepository) ToggleMute(ctx context.Context, userId, targetId string) (bool, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET muted_users = CASE "+
			"WHEN $2::text = ANY(muted_users) THEN array_remove(muted_users, $2::text) "+
			"ELSE array_append(muted_users, $2::text) END "+
			"WHERE id = $1 RETURNING $2::text = ANY(muted_users)",
		userId,
		targetId,
	)

	var muted bool
	err := row.Scan(&muted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}

	return muted, err
}

// FindOrCreateConversation returns the direct conversation between the two
// users, creating it if needed. The unique pair_key makes concurrent callers
// converge on a single row; the boolean reports whether this call created it.
func (db *PgChatRepository) FindOrCreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, bool, error) {
	key := PairKey(params.UserId, params.RecipientId)

	conv, err := db.getConversationByPairKey(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, false, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id string
	err = tx.QueryRowContext(ctx,
		"INSERT INTO conversations (id, pair_key, created_at, updated_at) VALUES ($1, $2, $3, $3) "+
			"ON CONFLICT (pair_key) DO NOTHING RETURNING id",
		params.Id,
		key,
		now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// lost the race, another request committed the pair first
		tx.Rollback()
		conv, err := db.getConversationByPairKey(ctx, key)
		return conv, false, err
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO conversation_members (conversation_id, user_id) SELECT $1, unnest($2::text[])",
		id,
		pq.Array([]string{params.UserId, params.RecipientId}),
	)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("insert members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, false, err
	}

	conv, err = db.GetConversation(ctx, id)
	return conv, true, err
}

func (db *PgChatRepository) getConversationByPairKey(ctx context.Context, key string) (Conversation, error) {
	var id string
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM conversations WHERE pair_key = $1", key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	return db.GetConversation(ctx, id)
}

func (db *PgChatRepository) GetConversation(ctx context.Context, conversationId string) (Conversation, error) {
	return getConversation(ctx, db.conn, conversationId)
}

func getConversation(ctx context.Context, q queryer, conversationId string) (Conversation, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, is_group, last_message_id, last_message_at, created_at, updated_at "+
			"FROM conversations WHERE id = $1",
		conversationId,
	)

	var (
		conv          Conversation
		lastMessageId sql.NullString
		lastMessageAt sql.NullTime
	)
	err := row.Scan(&conv.Id, &conv.IsGroup, &lastMessageId, &lastMessageAt, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	conv.LastMessageId = lastMessageId.String
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		conv.LastMessageAt = &t
	}

	members, err := loadMembers(ctx, q, []string{conv.Id})
	if err != nil {
		return Conversation{}, err
	}
	applyMembers(&conv, members[conv.Id])

	return conv, nil
}

type member struct {
	userId      string
	unreadCount int
}

func loadMembers(ctx context.Context, q queryer, conversationIds []string) (map[string][]member, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT conversation_id, user_id, unread_count FROM conversation_members "+
			"WHERE conversation_id = ANY($1) ORDER BY conversation_id, user_id",
		pq.Array(conversationIds),
	)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]member, len(conversationIds))
	for rows.Next() {
		var (
			convId string
			m      member
		)
		if err := rows.Scan(&convId, &m.userId, &m.unreadCount); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out[convId] = append(out[convId], m)
	}

	return out, rows.Err()
}

func applyMembers(conv *Conversation, members []member) {
	conv.Participants = make([]string, 0, len(members))
	conv.UnreadCounts = make(map[string]int, len(members))
	for _, m := range members {
		conv.Participants = append(conv.Participants, m.userId)
		conv.UnreadCounts[m.userId] = m.unreadCount
	}
}

func (db *PgChatRepository) ListConversations(ctx context.Context, userId string) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT
			c.id,
			c.is_group,
			c.last_message_id,
			c.last_message_at,
			c.created_at,
			c.updated_at,
			m.sender_id,
			m.content,
			m.attachments,
			m.created_at
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
		LEFT JOIN messages m ON m.id = c.last_message_id
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`,
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var (
		convs = make([]Conversation, 0)
		ids   = make([]string, 0)
	)
	for rows.Next() {
		var (
			conv          Conversation
			lastMessageId sql.NullString
			lastMessageAt sql.NullTime
			senderId      sql.NullString
			content       sql.NullString
			attachments   pq.StringArray
			msgCreatedAt  sql.NullTime
		)
		err := rows.Scan(
			&conv.Id,
			&conv.IsGroup,
			&lastMessageId,
			&lastMessageAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
			&senderId,
			&content,
			&attachments,
			&msgCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}

		conv.LastMessageId = lastMessageId.String
		if lastMessageAt.Valid {
			t := lastMessageAt.Time
			conv.LastMessageAt = &t
		}
		if lastMessageId.Valid && senderId.Valid {
			conv.LastMessage = &Message{
				Id:             lastMessageId.String,
				ConversationId: conv.Id,
				SenderId:       senderId.String,
				Content:        content.String,
				Attachments:    attachments,
				CreatedAt:      msgCreatedAt.Time,
			}
		}

		convs = append(convs, conv)
		ids = append(ids, conv.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return convs, nil
	}

	members, err := loadMembers(ctx, db.conn, ids)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		applyMembers(&convs[i], members[convs[i].Id])
	}

	return convs, nil
}

// UpdateConversationOnMessage points the conversation at its newest message
// and bumps the unread counter of every member except the sender. Counters
// are incremented in SQL so concurrent senders never lose an update.
func (db *PgChatRepository) UpdateConversationOnMessage(ctx context.Context, conversationId, messageId, senderId string, at time.Time) (Conversation, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = $2, "+
			"last_message_at = GREATEST(COALESCE(last_message_at, $3), $3), updated_at = $4 "+
			"WHERE id = $1",
		conversationId,
		messageId,
		at,
		time.Now().UTC(),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Conversation{}, err
	} else if n == 0 {
		return Conversation{}, ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversation_members SET unread_count = unread_count + 1 "+
			"WHERE conversation_id = $1 AND user_id <> $2",
		conversationId,
		senderId,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("increment unread: %w", err)
	}

	conv, err := getConversation(ctx, tx, conversationId)
	if err != nil {
		return Conversation{}, err
	}

	return conv, tx.Commit()
}

func (db *PgChatRepository) MarkConversationRead(ctx context.Context, conversationId, userId string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversation_members SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE messages SET read_by = array_append(read_by, $2::text) "+
			"WHERE conversation_id = $1 AND sender_id <> $2 AND NOT ($2::text = ANY(read_by))",
		conversationId,
		userId,
	)
	if err != nil {
		return fmt.Errorf("update read receipts: %w", err)
	}

	return tx.Commit()
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, msg Message) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Content,
		pq.Array(nonNil(msg.Attachments)),
		msg.Reactions,
		pq.Array(nonNil(msg.ReadBy)),
		msg.Deleted,
		msg.CreatedAt,
	)

	return err
}

func scanMessage(s rowScanner) (Message, error) {
	var msg Message
	err := s.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Content,
		pq.Array(&msg.Attachments),
		&msg.Reactions,
		pq.Array(&msg.ReadBy),
		&msg.Deleted,
		&msg.CreatedAt,
	)
	return msg, err
}

// GetMessage returns a message unless it does not exist or is soft-deleted.
func (db *PgChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 AND NOT deleted",
		messageId,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return msg, err
}

// GetMessages returns non-deleted messages newest first, starting strictly
// before q.Before when it is set.
func (db *PgChatRepository) GetMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE conversation_id = $1 AND NOT deleted "+
			"AND ($2::text = '' OR (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2::text)) "+
			"ORDER BY created_at DESC, id DESC LIMIT $3",
		q.ConversationId,
		q.Before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) UpdateReactions(ctx context.Context, messageId string, reactions Reactions) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET reactions = $2 WHERE id = $1",
		messageId,
		reactions,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}
