package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/messaging"
	"github.com/umar/roomrelay/internal/relay"
	"golang.org/x/time/rate"
)

const (
	defaultSendBuffer = 256
	storeTimeout      = 5 * time.Second
)

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type Options struct {
	SendBuffer int
	// RateLimit is the sustained inbound frames per second per connection;
	// zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Hub owns this instance's websocket sessions. Registration, authentication
// and disconnects are serialized through Run so presence flips online on a
// user's first local connection and offline on their last.
type Hub struct {
	registry *relay.Registry
	messages *messaging.MessageService
	presence messaging.PresenceTracker
	tokens   TokenValidator
	opts     Options
	logger   *slog.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	userConns map[int64]int

	register   chan *Client
	login      chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub(registry *relay.Registry, messages *messaging.MessageService, presence messaging.PresenceTracker, tokens TokenValidator, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   registry,
		messages:   messages,
		presence:   presence,
		tokens:     tokens,
		opts:       opts,
		logger:     logger,
		clients:    make(map[string]*Client),
		userConns:  make(map[int64]int),
		register:   make(chan *Client),
		login:      make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Debug("client connected", "conn_id", client.id)

		case client := <-h.login:
			userID := client.UserID()
			h.mu.Lock()
			h.userConns[userID]++
			first := h.userConns[userID] == 1
			h.mu.Unlock()
			if first {
				h.setPresence(userID, true)
			}
			h.logger.Info("client authenticated", "conn_id", client.id, "user_id", userID)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			delete(h.clients, client.id)
			last := false
			userID := client.UserID()
			if ok && userID != 0 {
				h.userConns[userID]--
				if h.userConns[userID] <= 0 {
					delete(h.userConns, userID)
					last = true
				}
			}
			h.mu.Unlock()
			if !ok {
				continue
			}
			client.closeSend()
			if last {
				h.setPresence(userID, false)
			}
			h.logger.Info("client disconnected", "conn_id", client.id, "user_id", userID)

		case <-h.quit:
			h.mu.Lock()
			clients := h.clients
			users := h.userConns
			h.clients = make(map[string]*Client)
			h.userConns = make(map[int64]int)
			h.mu.Unlock()
			for _, client := range clients {
				h.registry.LeaveAll(client)
				client.closeSend()
			}
			for userID := range users {
				h.setPresence(userID, false)
			}
			return
		}
	}
}

func (h *Hub) setPresence(userID int64, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	if online {
		err = h.presence.MarkOnline(ctx, userID)
	} else {
		err = h.presence.MarkOffline(ctx, userID)
	}
	if err != nil {
		h.logger.Warn("presence update failed", "user_id", userID, "online", online, "error", err)
	}
}

// send hands c to the Run loop unless the hub has shut down.
func (h *Hub) send(ch chan *Client, c *Client) bool {
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.opts.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.RateBurst)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LocalConnections returns how many of this instance's sessions belong to
// the user.
func (h *Hub) LocalConnections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userConns[userID]
}

// Shutdown closes every session and marks their users offline. It waits for
// the Run loop to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
