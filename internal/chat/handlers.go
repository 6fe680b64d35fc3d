package chat

import (
	"context"
	"errors"

	"github.com/umar/roomrelay/internal/messaging"
)

// HandleSendMessage persists and publishes a message. The sender receives
// its own message through the room fan-out like every other subscriber.
func HandleSendMessage(ctx context.Context, c *Client, payload SendMessagePayload) {
	if payload.RoomID <= 0 {
		c.sendError(invalid("invalid room_id"))
		return
	}

	msg, err := c.hub.messages.SendMessage(ctx, c.UserID(), payload.RoomID, payload.Content, payload.Type)
	if errors.Is(err, messaging.ErrPublishFailed) {
		c.hub.logger.Warn("message stored but not relayed", "room_id", payload.RoomID, "message_id", msg.MessageID, "error", err)
		c.sendError(err)
		return
	}
	if err != nil {
		c.sendError(err)
	}
}

func HandleMessageRead(ctx context.Context, c *Client, payload RoomPayload) {
	if payload.RoomID <= 0 {
		c.sendError(invalid("invalid room_id"))
		return
	}

	_, err := c.hub.messages.MarkAsRead(ctx, c.UserID(), payload.RoomID)
	if errors.Is(err, messaging.ErrPublishFailed) {
		c.hub.logger.Warn("read ack not relayed", "room_id", payload.RoomID, "error", err)
		return
	}
	if err != nil {
		c.sendError(err)
	}
}
