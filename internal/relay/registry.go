package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/umar/roomrelay/internal/events"
	"golang.org/x/sync/singleflight"
)

// Subscriber is a local session that wants a room's events. Deliver must not
// block; it reports false when the event was dropped.
type Subscriber interface {
	ID() string
	Deliver(ev events.Event) bool
}

// Registry tracks which room topics this instance has attached to the bus and
// which local subscribers listen to each room. Topics are attached at most once
// and stay attached until Close.
type Registry struct {
	bus    Bus
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	attached map[int64]Subscription
	local    map[int64]map[string]Subscriber
	closed   bool
}

func NewRegistry(bus Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bus:      bus,
		logger:   logger,
		attached: make(map[int64]Subscription),
		local:    make(map[int64]map[string]Subscriber),
	}
}

// Attach subscribes this instance to the room's topic unless it already has.
// Concurrent calls for one room share a single bus subscription.
func (r *Registry) Attach(ctx context.Context, roomID int64) error {
	if r.IsAttached(roomID) {
		return nil
	}

	_, err, _ := r.group.Do(strconv.FormatInt(roomID, 10), func() (any, error) {
		r.mu.RLock()
		_, ok := r.attached[roomID]
		closed := r.closed
		r.mu.RUnlock()
		if ok {
			return nil, nil
		}
		if closed {
			return nil, ErrClosed
		}

		topic := events.Topic(roomID)
		sub, err := r.bus.Subscribe(ctx, topic, r.dispatch)
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", topic, err)
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			sub.Close()
			return nil, ErrClosed
		}
		r.attached[roomID] = sub
		r.mu.Unlock()

		r.logger.Info("room topic attached", "room_id", roomID, "topic", topic)
		return nil, nil
	})
	return err
}

func (r *Registry) IsAttached(roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.attached[roomID]
	return ok
}

func (r *Registry) AttachedRooms() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.attached))
	for id := range r.attached {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Join adds s to the room's local fan-out set. It reports whether s was newly
// added.
func (r *Registry) Join(roomID int64, s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.local[roomID]
	if !ok {
		subs = make(map[string]Subscriber)
		r.local[roomID] = subs
	}
	if _, ok := subs[s.ID()]; ok {
		return false
	}
	subs[s.ID()] = s
	return true
}

func (r *Registry) Leave(roomID int64, s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, s.ID())
}

// LeaveAll removes s from every room and returns the rooms it was in.
func (r *Registry) LeaveAll(s Subscriber) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []int64
	for roomID := range r.local {
		if r.leaveLocked(roomID, s.ID()) {
			left = append(left, roomID)
		}
	}
	slices.Sort(left)
	return left
}

func (r *Registry) leaveLocked(roomID int64, id string) bool {
	subs, ok := r.local[roomID]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.local, roomID)
	}
	return true
}

func (r *Registry) Subscribers(roomID int64) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.local[roomID]
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

func (r *Registry) dispatch(topic string, data []byte) {
	roomID, ok := events.RoomFromTopic(topic)
	if !ok {
		r.logger.Warn("relayed event on unexpected topic", "topic", topic)
		return
	}

	ev, err := events.Decode(data)
	if err != nil {
		r.logger.Warn("dropping undecodable relayed event", "topic", topic, "error", err)
		return
	}

	for _, s := range r.Subscribers(roomID) {
		if !s.Deliver(ev) {
			r.logger.Warn("subscriber queue full, event dropped", "room_id", roomID, "conn_id", s.ID())
		}
	}
}

// Close detaches every topic. The registry cannot be reused afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.attached
	r.attached = make(map[int64]Subscription)
	r.local = make(map[int64]map[string]Subscriber)
	r.mu.Unlock()

	var firstErr error
	for roomID, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to detach room %d: %w", roomID, err)
		}
	}
	return firstErr
}
