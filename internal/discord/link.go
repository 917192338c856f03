package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingLink correlates an OAuth callback with the account that started it.
type PendingLink struct {
	State   string `json:"state"`
	Account int64  `json:"account"`
	UUID    string `json:"uuid"`
	Email   string `json:"email"`
}

type LinkStore interface {
	Put(ctx context.Context, state string, link PendingLink, ttl time.Duration) error
	// TakeOnce returns the link and deletes it atomically. ok is false when
	// the state is unknown, expired or already taken.
	TakeOnce(ctx context.Context, state string) (link PendingLink, ok bool, err error)
}

type RedisLinkStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisLinkStore(redisClient redis.UniversalClient, prefix string) *RedisLinkStore {
	if prefix == "" {
		prefix = "discord_link"
	}
	return &RedisLinkStore{redis: redisClient, prefix: prefix}
}

func (s *RedisLinkStore) key(state string) string {
	return s.prefix + ":" + state
}

func (s *RedisLinkStore) Put(ctx context.Context, state string, link PendingLink, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("pending link ttl must be positive")
	}
	encoded, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("encode pending link: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(state), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("store pending link: %w", err)
	}
	return nil
}

func (s *RedisLinkStore) TakeOnce(ctx context.Context, state string) (PendingLink, bool, error) {
	data, err := s.redis.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingLink{}, false, nil
	}
	if err != nil {
		return PendingLink{}, false, fmt.Errorf("take pending link: %w", err)
	}

	var link PendingLink
	if err := json.Unmarshal(data, &link); err != nil {
		return PendingLink{}, false, fmt.Errorf("decode pending link: %w", err)
	}
	return link, true, nil
}
