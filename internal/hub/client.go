package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/renewtech/livechat/backend/internal/config"
	"github.com/renewtech/livechat/backend/internal/types"
)

// Role distinguishes the two kinds of principals on a connection
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleStaff   Role = "staff"
)

// Client is a middleman between one websocket connection and the hub
type Client struct {
	// Unique connection ID
	connectionID string

	// Authenticated principal
	userID      string
	displayName string
	role        Role
	department  string
	maxChats    int

	// The hub this client belongs to
	hub *ChatHub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	cfg *config.Config

	// Logger
	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewClient creates a new Client for an upgraded connection
func NewClient(hub *ChatHub, conn *websocket.Conn, role Role, userID string, cfg *config.Config, logger zerolog.Logger) *Client {
	connectionID := uuid.New().String()
	return &Client{
		connectionID: connectionID,
		userID:       userID,
		role:         role,
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 64),
		cfg:          cfg,
		logger: logger.With().
			Str("connection_id", connectionID).
			Str("user_id", userID).
			Logger(),
		done: make(chan struct{}),
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			break
		}
		c.handleFrame(message)
	}
}

// handleFrame dispatches one inbound frame by its type discriminator.
// Frames that are invalid for the connection's role are answered with an
// Error frame, never a disconnect.
func (c *Client) handleFrame(message []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse frame type")
		c.hub.sendError(c, "frame", "malformed frame")
		return
	}

	switch head.Type {
	case types.FrameJoinVisitor:
		if !c.requireRole(RoleVisitor, head.Type) {
			return
		}
		var f types.JoinVisitorFrame
		if !c.decode(message, head.Type, &f) {
			return
		}
		c.hub.JoinAsVisitor(c, f)

	case types.FrameJoinStaff:
		if !c.requireRole(RoleStaff, head.Type) {
			return
		}
		var f types.JoinStaffFrame
		if !c.decode(message, head.Type, &f) {
			return
		}
		c.hub.JoinStaffQueue(c, f)

	case types.FrameMessageToStaff:
		if !c.requireRole(RoleVisitor, head.Type) {
			return
		}
		var f types.VisitorMessageFrame
		if !c.decode(message, head.Type, &f) {
			return
		}
		c.hub.SendMessageToStaff(c, f)

	case types.FrameMessageToVisitor:
		if !c.requireRole(RoleStaff, head.Type) {
			return
		}
		var f types.StaffMessageFrame
		if !c.decode(message, head.Type, &f) {
			return
		}
		c.hub.SendMessageToVisitor(c, f)

	case types.FrameTyping, types.FrameStopTyping:
		var f types.TypingFrame
		if !c.decode(message, head.Type, &f) {
			return
		}
		c.hub.RelayTyping(c, f)

	case types.FrameStaffBusy:
		if !c.requireRole(RoleStaff, head.Type) {
			return
		}
		c.hub.SetStaffStatus(c, types.StaffBusy)

	case types.FrameStaffAvailable:
		if !c.requireRole(RoleStaff, head.Type) {
			return
		}
		c.hub.SetStaffStatus(c, types.StaffOnline)

	default:
		c.logger.Debug().Str("type", head.Type).Msg("unknown frame type")
		c.hub.sendError(c, head.Type, "unknown frame type")
	}
}

func (c *Client) requireRole(role Role, op string) bool {
	if c.role != role {
		c.hub.sendError(c, op, "not allowed for this connection")
		return false
	}
	return true
}

func (c *Client) decode(message []byte, op string, out interface{}) bool {
	if err := json.Unmarshal(message, out); err != nil {
		c.logger.Debug().Err(err).Str("type", op).Msg("failed to parse frame")
		c.hub.sendError(c, op, "malformed frame")
		return false
	}
	return true
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close safely closes the client's send channel (idempotent)
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// safeSend attempts to queue a message, recovering from panic if the
// channel is already closed. A full buffer drops the message rather than
// blocking the hub.
func (c *Client) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
