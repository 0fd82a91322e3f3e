package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renewtech/livechat/backend/internal/assign"
	"github.com/renewtech/livechat/backend/internal/bus"
	"github.com/renewtech/livechat/backend/internal/config"
	"github.com/renewtech/livechat/backend/internal/presence"
	"github.com/renewtech/livechat/backend/internal/session"
	"github.com/renewtech/livechat/backend/internal/types"
)

// ChatHub terminates one websocket per visitor or staff member and is the
// only component that drives presence, assignment, sessions and the bus.
// Handler errors are pushed back to the initiating connection as Error
// frames; they never tear the connection down.
type ChatHub struct {
	// Registered clients by connection ID
	clients map[string]*Client

	// Joined visitors by user ID
	visitors map[string]*Client

	// Joined staff by staff ID; also the staff broadcast group
	staff map[string]*Client

	// Register requests from new connections
	register chan *Client

	// Unregister requests from closing connections
	unregister chan *Client

	// Mutex to protect the three maps
	mu sync.RWMutex

	store     presence.Store
	engine    *assign.Engine
	sessions  *session.Manager
	publisher bus.Publisher

	cfg    *config.Config
	logger zerolog.Logger
}

// NewChatHub creates a new ChatHub
func NewChatHub(store presence.Store, engine *assign.Engine, sessions *session.Manager, publisher bus.Publisher, cfg *config.Config, logger zerolog.Logger) *ChatHub {
	return &ChatHub{
		clients:    make(map[string]*Client),
		visitors:   make(map[string]*Client),
		staff:      make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		store:      store,
		engine:     engine,
		sessions:   sessions,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *ChatHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.dropClient(client)
		}
	}
}

// addClient registers a freshly upgraded connection. Presence is not
// touched until the client sends its join frame.
func (h *ChatHub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.connectionID] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("connection_id", c.connectionID).
		Int("total_connections", total).
		Msg("connection registered")
}

// dropClient removes a connection and runs its disconnect chain. Cleanup
// runs even when the disconnect races an in-flight handler; the presence
// store operations are idempotent.
func (h *ChatHub) dropClient(c *Client) {
	h.mu.Lock()
	existing, ok := h.clients[c.connectionID]
	if !ok || existing != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.connectionID)
	joinedVisitor := h.visitors[c.userID] == c
	if joinedVisitor {
		delete(h.visitors, c.userID)
	}
	joinedStaff := h.staff[c.userID] == c
	if joinedStaff {
		delete(h.staff, c.userID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	switch {
	case joinedVisitor:
		h.visitorDisconnected(c)
	case joinedStaff:
		h.staffDisconnected(c)
	}
	c.Close()

	h.logger.Debug().
		Str("connection_id", c.connectionID).
		Int("total_connections", total).
		Msg("connection unregistered")
}

// ConnectionCount returns the number of registered connections
func (h *ChatHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// newFrame builds the outbound envelope for an event
func newFrame(event string) types.ServerFrame {
	return types.ServerFrame{Event: event, Timestamp: time.Now()}
}

// pushTo marshals a frame and queues it on one client, best effort
func (h *ChatHub) pushTo(c *Client, frame types.ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("event", frame.Event).Msg("failed to marshal frame")
		return false
	}
	return c.safeSend(data)
}

// sendError reports a failed operation back to the initiating connection
func (h *ChatHub) sendError(c *Client, op, reason string) {
	frame := newFrame(types.EvtError)
	frame.Error = &types.ErrorPayload{Op: op, Reason: reason}
	h.pushTo(c, frame)
}

// sendToStaff delivers a frame to a staff member's live connection.
// Returns false when the staff member has no connection on this hub.
func (h *ChatHub) sendToStaff(staffID string, frame types.ServerFrame) bool {
	h.mu.RLock()
	c, ok := h.staff[staffID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.pushTo(c, frame)
}

// sendToConnection delivers a frame to a specific connection ID
func (h *ChatHub) sendToConnection(connectionID string, frame types.ServerFrame) bool {
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.pushTo(c, frame)
}

// broadcastAll fans a frame out to every connection, best effort
func (h *ChatHub) broadcastAll(frame types.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("event", frame.Event).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.safeSend(data)
	}
}

// broadcastStaff fans a frame out to the staff group only
func (h *ChatHub) broadcastStaff(frame types.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("event", frame.Event).Msg("failed to marshal staff broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.staff {
		c.safeSend(data)
	}
}

// pushOnlineUsers broadcasts the current visitor list to all connections
func (h *ChatHub) pushOnlineUsers(ctx context.Context) {
	users, err := h.store.ListVisitors(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list visitors for broadcast")
		return
	}
	frame := newFrame(types.EvtUpdateOnlineUsers)
	frame.Users = users
	h.broadcastAll(frame)
}

// pushOnlineStaff broadcasts the current staff list to all connections
func (h *ChatHub) pushOnlineStaff(ctx context.Context) {
	staff, err := h.store.ListStaff(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list staff for broadcast")
		return
	}
	frame := newFrame(types.EvtUpdateOnlineStaff)
	frame.StaffList = staff
	h.broadcastAll(frame)
}

// publish sends a domain event to the bus with a bounded timeout. A broker
// failure is logged with full context; the triggering operation has already
// taken effect locally and is not rolled back.
func (h *ChatHub) publish(topic, key string, kind types.EventKind, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, topic, key, kind, payload); err != nil {
		h.logger.Error().Err(err).
			Str("topic", topic).
			Str("kind", string(kind)).
			Msg("event publish failed")
	}
}
