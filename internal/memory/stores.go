package memory

import (
	"context"
	"slices"
	"sync"
)

type unreadKey struct {
	roomID int64
	userID int64
}

type UnreadStore struct {
	mu     sync.Mutex
	counts map[unreadKey]int64
}

func NewUnreadStore() *UnreadStore {
	return &UnreadStore{counts: make(map[unreadKey]int64)}
}

func (s *UnreadStore) Increment(ctx context.Context, roomID, senderID int64, memberIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range memberIDs {
		if id == senderID {
			continue
		}
		s.counts[unreadKey{roomID, id}]++
	}
	return nil
}

func (s *UnreadStore) Reset(ctx context.Context, roomID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, unreadKey{roomID, userID})
	return nil
}

func (s *UnreadStore) Count(ctx context.Context, roomID, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[unreadKey{roomID, userID}], nil
}

func (s *UnreadStore) Counts(ctx context.Context, userID int64, roomIDs []int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64, len(roomIDs))
	for _, roomID := range roomIDs {
		out[roomID] = s.counts[unreadKey{roomID, userID}]
	}
	return out, nil
}

type PresenceStore struct {
	mu     sync.RWMutex
	online map[int64]struct{}
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{online: make(map[int64]struct{})}
}

func (s *PresenceStore) MarkOnline(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = struct{}{}
	return nil
}

func (s *PresenceStore) MarkOffline(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	return nil
}

func (s *PresenceStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok, nil
}

func (s *PresenceStore) ListOnline(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}
