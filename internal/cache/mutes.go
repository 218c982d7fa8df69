package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/redis/go-redis/v9"
)

const (
	muteKeyPrefix  = "mutes:"
	DefaultMuteTTL = 5 * time.Minute

	// emptyMember keeps the set present in redis when a user has muted nobody.
	emptyMember = "\x00"
)

// MuteList answers whether a user has muted a sender.
type MuteList interface {
	IsMuted(ctx context.Context, userId, senderId string) (bool, error)
	Invalidate(ctx context.Context, userId string) error
}

type mutedUsersGetter interface {
	GetMutedUsers(ctx context.Context, userId string) ([]string, error)
}

// DirectMuteList reads the mute list from the database on every lookup.
type DirectMuteList struct {
	db mutedUsersGetter
}

func NewDirectMuteList(db mutedUsersGetter) *DirectMuteList {
	return &DirectMuteList{db: db}
}

func (m *DirectMuteList) IsMuted(ctx context.Context, userId, senderId string) (bool, error) {
	muted, err := m.db.GetMutedUsers(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get muted users: %w", err)
	}

	return slices.Contains(muted, senderId), nil
}

func (m *DirectMuteList) Invalidate(context.Context, string) error {
	return nil
}

// RedisMuteList caches each user's mute list as a redis set. Redis errors
// fall through to the database so a cache outage never blocks delivery.
type RedisMuteList struct {
	rdb    *redis.Client
	direct *DirectMuteList
	ttl    time.Duration
	log    *log.Logger
}

func NewRedisMuteList(rdb *redis.Client, db mutedUsersGetter, ttl time.Duration, logger *log.Logger) *RedisMuteList {
	if ttl <= 0 {
		ttl = DefaultMuteTTL
	}

	return &RedisMuteList{
		rdb:    rdb,
		direct: NewDirectMuteList(db),
		ttl:    ttl,
		log:    logger,
	}
}

func muteKey(userId string) string {
	return muteKeyPrefix + userId
}

func (m *RedisMuteList) IsMuted(ctx context.Context, userId, senderId string) (bool, error) {
	members, err := m.rdb.SMembers(ctx, muteKey(userId)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		m.log.Printf("mute cache lookup %q: %v", userId, err)
		return m.direct.IsMuted(ctx, userId, senderId)
	}

	if len(members) > 0 {
		return slices.Contains(members, senderId), nil
	}

	muted, err := m.direct.db.GetMutedUsers(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get muted users: %w", err)
	}

	if err := m.fill(ctx, userId, muted); err != nil {
		m.log.Printf("mute cache fill %q: %v", userId, err)
	}

	return slices.Contains(muted, senderId), nil
}

func (m *RedisMuteList) fill(ctx context.Context, userId string, muted []string) error {
	key := muteKey(userId)
	members := make([]any, 0, len(muted)+1)
	members = append(members, emptyMember)
	for _, id := range muted {
		members = append(members, id)
	}

	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, m.ttl)
		return nil
	})

	return err
}

func (m *RedisMuteList) Invalidate(ctx context.Context, userId string) error {
	if err := m.rdb.Del(ctx, muteKey(userId)).Err(); err != nil {
		return fmt.Errorf("invalidate mute cache: %w", err)
	}

	return nil
}
