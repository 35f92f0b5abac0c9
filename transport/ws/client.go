package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"chatd/errors"
	"chatd/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one websocket connection. It feeds inbound frames to the core
// and drains its send channel to the socket. The session token is minted at
// upgrade time and identifies this connection to the presence registry.
type Client struct {
	log          *slog.Logger
	conn         *websocket.Conn
	hub          *Hub
	lifecycle    services.ILifecycleService
	router       services.IMessageService
	history      services.IHistoryService
	send         chan []byte
	sessionToken string
	username     string
}

// readPump consumes frames until the connection dies, then reports the
// disconnect exactly once. A duplicate disconnect downstream is a no-op, so
// the ordering between network close and handler return does not matter.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.lifecycle.Disconnect(ctx, c.sessionToken)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("Unexpected websocket close", "session", c.sessionToken, "error", err)
			}
			return
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	var frame Inbound
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError(errors.ErrInvalidMessage, "malformed frame")
		return
	}
	if err := frame.validateFrame(); err != nil {
		c.sendError(err, err.Error())
		return
	}

	switch frame.Action {
	case actionJoin:
		user, err := c.lifecycle.Join(ctx, frame.Username, frame.DisplayName, c.sessionToken)
		if err != nil {
			c.sendError(err, err.Error())
			return
		}
		c.hub.bindUser(c, user.Username)
		c.username = user.Username

	case actionSendGroup:
		if _, err := c.router.SendGroup(ctx, c.username, frame.MessageType, frame.Content, frame.imageMeta()); err != nil {
			c.sendError(err, err.Error())
		}

	case actionSendPrivate:
		if _, err := c.router.SendPrivate(ctx, c.username, frame.ReceiverUsername, frame.MessageType, frame.Content, frame.imageMeta()); err != nil {
			c.sendError(err, err.Error())
		}

	case actionMarkRead:
		if _, err := c.history.MarkConversationRead(c.username, frame.OtherUsername); err != nil {
			c.sendError(err, err.Error())
		}
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings. It exits when the hub closes the channel or a write
// fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError reports a failure on the error channel of this connection only.
// Only the sentinel code and its message cross the boundary.
func (c *Client) sendError(err error, message string) {
	data := ErrorData{Code: errorCode(err), Message: message}
	frame, marshalErr := json.Marshal(Outbound{Channel: channelError, Data: data})
	if marshalErr != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func errorCode(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrUserNotFound):
		return "USER_NOT_FOUND"
	case stderrors.Is(err, errors.ErrInvalidMessage):
		return "INVALID_MESSAGE"
	case stderrors.Is(err, errors.ErrUnsupportedMediaKind):
		return "UNSUPPORTED_MEDIA_KIND"
	case stderrors.Is(err, errors.ErrPayloadTooLarge):
		return "PAYLOAD_TOO_LARGE"
	case stderrors.Is(err, errors.ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
