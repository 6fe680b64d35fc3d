package redisc

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// UnreadStore keeps one hash per room, "unread:<roomId>", with a field per
// user holding that user's unread count.
type UnreadStore struct {
	client *redis.Client
	prefix string
}

func NewUnreadStore(client *redis.Client, keyPrefix string) *UnreadStore {
	return &UnreadStore{client: client, prefix: keyPrefix}
}

func (s *UnreadStore) key(roomID int64) string {
	return s.prefix + "unread:" + strconv.FormatInt(roomID, 10)
}

func (s *UnreadStore) Increment(ctx context.Context, roomID, senderID int64, memberIDs []int64) error {
	key := s.key(roomID)
	pipe := s.client.TxPipeline()
	queued := 0
	for _, id := range memberIDs {
		if id == senderID {
			continue
		}
		pipe.HIncrBy(ctx, key, strconv.FormatInt(id, 10), 1)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment unread counts for room %d: %w", roomID, err)
	}
	return nil
}

func (s *UnreadStore) Reset(ctx context.Context, roomID, userID int64) error {
	if err := s.client.HDel(ctx, s.key(roomID), strconv.FormatInt(userID, 10)).Err(); err != nil {
		return fmt.Errorf("failed to reset unread count for room %d: %w", roomID, err)
	}
	return nil
}

func (s *UnreadStore) Count(ctx context.Context, roomID, userID int64) (int64, error) {
	n, err := s.client.HGet(ctx, s.key(roomID), strconv.FormatInt(userID, 10)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read unread count for room %d: %w", roomID, err)
	}
	return n, nil
}

func (s *UnreadStore) Counts(ctx context.Context, userID int64, roomIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}

	field := strconv.FormatInt(userID, 10)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(roomIDs))
	for i, roomID := range roomIDs {
		cmds[i] = pipe.HGet(ctx, s.key(roomID), field)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read unread counts: %w", err)
	}

	for i, cmd := range cmds {
		n, err := cmd.Int64()
		switch {
		case errors.Is(err, redis.Nil):
			n = 0
		case err != nil:
			return nil, fmt.Errorf("failed to read unread count for room %d: %w", roomIDs[i], err)
		}
		out[roomIDs[i]] = n
	}
	return out, nil
}
