package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/events"
	"github.com/umar/roomrelay/internal/messaging"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 8192
	opTimeout      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

var errRateLimited = &apperror.Error{Code: "RATE_LIMITED", Message: "too many frames"}

type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	send    chan []byte
	limiter *rate.Limiter

	mu       sync.Mutex
	state    State
	userID   int64
	nickname string
	rooms    map[int64]struct{}
	closed   bool
}

// ServeWS upgrades the request into a session. A credential in the
// Authorization header or the token query parameter authenticates the session
// immediately; otherwise the client must send a connect frame.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Error("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:     hub,
			conn:    conn,
			id:      ulid.Make().String(),
			send:    make(chan []byte, hub.opts.SendBuffer),
			limiter: hub.newLimiter(),
			rooms:   make(map[int64]struct{}),
		}

		if !hub.send(hub.register, client) {
			conn.Close()
			return
		}
		go client.writePump()
		if token != "" {
			client.authenticate(token)
		}
		go client.readPump()
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deliver queues a relayed event. It never blocks; a full queue drops the
// frame for this connection only.
func (c *Client) Deliver(ev events.Event) bool {
	data, err := eventFrame(ev)
	if err != nil {
		c.hub.logger.Warn("failed to render event", "conn_id", c.id, "error", err)
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.state = StateDisconnected
	close(c.send)
}

func (c *Client) reply(msgType string, payload interface{}) {
	data, err := NewWSMessage(msgType, payload)
	if err != nil {
		c.hub.logger.Error("failed to marshal frame", "type", msgType, "error", err)
		return
	}
	if !c.enqueue(data) {
		c.hub.logger.Warn("send queue full, frame dropped", "conn_id", c.id, "type", msgType)
	}
}

func (c *Client) replyTo(msgType string, roomID int64, payload interface{}) {
	data, err := newFrame(msgType, events.Destination(roomID), payload)
	if err != nil {
		c.hub.logger.Error("failed to marshal frame", "type", msgType, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(err error) {
	if apperror.CodeOf(err) == apperror.CodeInternal {
		c.hub.logger.Error("frame handling failed", "conn_id", c.id, "user_id", c.UserID(), "error", err)
	}
	c.reply(TypeError, ErrorPayload{Code: apperror.CodeOf(err), Message: apperror.MessageOf(err)})
}

func (c *Client) readPump() {
	defer func() {
		// Stop local fan-out first; in-flight operations keep running.
		c.hub.registry.LeaveAll(c)
		c.hub.send(c.hub.unregister, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Error("ws read error", "error", err, "conn_id", c.id)
			}
			break
		}

		if !c.limiter.Allow() {
			c.sendError(errRateLimited)
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(invalid("malformed frame"))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func invalid(msg string) error {
	return &apperror.Error{Code: apperror.ErrInvalidInput.Code, Message: msg}
}

func (c *Client) handleMessage(msg WSMessage) {
	switch msg.Type {
	case TypePing:
		c.reply(TypePong, nil)
		return
	case TypeConnect:
		var payload ConnectPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(invalid("malformed connect payload"))
			return
		}
		c.authenticate(payload.Token)
		return
	}

	if c.State() != StateAuthenticated {
		c.sendError(apperror.ErrUnauthenticated)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch msg.Type {
	case TypeSubscribe:
		roomID, err := events.ParseDestination(msg.Destination)
		if err != nil {
			c.sendError(invalid("invalid destination"))
			return
		}
		c.subscribe(ctx, roomID)
	case TypeUnsubscribe:
		roomID, err := events.ParseDestination(msg.Destination)
		if err != nil {
			c.sendError(invalid("invalid destination"))
			return
		}
		c.unsubscribe(roomID)
	case TypeMessageSend:
		var payload SendMessagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(invalid("malformed message payload"))
			return
		}
		HandleSendMessage(ctx, c, payload)
	case TypeMessageRead:
		var payload RoomPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(invalid("malformed read payload"))
			return
		}
		HandleMessageRead(ctx, c, payload)
	default:
		c.sendError(invalid("unknown frame type"))
	}
}

func (c *Client) authenticate(token string) {
	if c.State() == StateAuthenticated {
		c.sendError(invalid("already connected"))
		return
	}

	claims, err := c.hub.tokens.ValidateToken(token)
	if err != nil {
		c.sendError(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.userID = claims.UserID
	c.nickname = claims.Nickname
	c.state = StateAuthenticated
	c.mu.Unlock()

	if !c.hub.send(c.hub.login, c) {
		return
	}
	c.reply(TypeConnected, ConnectedPayload{ConnID: c.id, UserID: claims.UserID, Nickname: claims.Nickname})
}

// subscribe binds the session to the room's fan-out. Only the first
// subscribe to a room resets unread counts and posts the join notice.
func (c *Client) subscribe(ctx context.Context, roomID int64) {
	user, err := c.hub.messages.AuthorizeMember(ctx, c.UserID(), roomID)
	if err != nil {
		c.sendError(err)
		return
	}

	c.mu.Lock()
	_, already := c.rooms[roomID]
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()

	c.hub.registry.Join(roomID, c)
	c.replyTo(TypeSubscribed, roomID, RoomPayload{RoomID: roomID})
	if already {
		return
	}

	err = c.hub.messages.EnterRoom(ctx, user, roomID)
	if errors.Is(err, messaging.ErrPublishFailed) {
		c.hub.logger.Warn("join notice not delivered", "room_id", roomID, "user_id", user.ID, "error", err)
		return
	}
	if err != nil {
		c.unsubscribe(roomID)
		c.sendError(err)
	}
}

func (c *Client) unsubscribe(roomID int64) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()

	c.hub.registry.Leave(roomID, c)
	c.replyTo(TypeUnsubscribed, roomID, RoomPayload{RoomID: roomID})
}

// Rooms returns the rooms this session is subscribed to.
func (c *Client) Rooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
