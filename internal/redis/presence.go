package redisc

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online:users"

// PresenceStore keeps the connected user ids in one Redis set shared by every
// instance.
type PresenceStore struct {
	client *redis.Client
	key    string
}

func NewPresenceStore(client *redis.Client, keyPrefix string) *PresenceStore {
	return &PresenceStore{client: client, key: keyPrefix + onlineUsersKey}
}

func (s *PresenceStore) MarkOnline(ctx context.Context, userID int64) error {
	if err := s.client.SAdd(ctx, s.key, userID).Err(); err != nil {
		return fmt.Errorf("failed to mark user %d online: %w", userID, err)
	}
	return nil
}

func (s *PresenceStore) MarkOffline(ctx context.Context, userID int64) error {
	if err := s.client.SRem(ctx, s.key, userID).Err(); err != nil {
		return fmt.Errorf("failed to mark user %d offline: %w", userID, err)
	}
	return nil
}

func (s *PresenceStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read presence of user %d: %w", userID, err)
	}
	return ok, nil
}

func (s *PresenceStore) ListOnline(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
