package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/renewtech/livechat/backend/internal/assign"
	"github.com/renewtech/livechat/backend/internal/bus"
	"github.com/renewtech/livechat/backend/internal/presence"
	"github.com/renewtech/livechat/backend/internal/types"
)

// JoinAsVisitor records the visitor's presence and announces the updated
// online-visitor list
func (h *ChatHub) JoinAsVisitor(c *Client, f types.JoinVisitorFrame) {
	if f.DisplayName == "" {
		h.sendError(c, types.FrameJoinVisitor, "displayName is required")
		return
	}
	ctx := context.Background()

	v := types.VisitorPresence{
		UserID:       c.userID,
		DisplayName:  f.DisplayName,
		Avatar:       f.Avatar,
		ConnectionID: c.connectionID,
		JoinTime:     time.Now(),
	}
	// A rejoin keeps the running session
	if prev, err := h.store.GetVisitor(ctx, c.userID); err == nil {
		v.SessionID = prev.SessionID
	}

	if err := h.store.UpsertVisitor(ctx, v); err != nil {
		h.logger.Error().Err(err).Str("user_id", c.userID).Msg("failed to save visitor presence")
		h.sendError(c, types.FrameJoinVisitor, "presence unavailable, try again")
		return
	}

	c.displayName = f.DisplayName
	h.mu.Lock()
	h.visitors[c.userID] = c
	h.mu.Unlock()

	h.logger.Info().
		Str("user_id", c.userID).
		Str("connection_id", c.connectionID).
		Msg("visitor joined")

	joined := newFrame(types.EvtUserJoined)
	joined.User = &v
	h.broadcastStaff(joined)
	h.pushOnlineUsers(ctx)
}

// JoinStaffQueue puts a staff member online, adds them to the staff
// broadcast group and publishes the status change
func (h *ChatHub) JoinStaffQueue(c *Client, f types.JoinStaffFrame) {
	if f.DisplayName == "" {
		h.sendError(c, types.FrameJoinStaff, "displayName is required")
		return
	}
	ctx := context.Background()

	department := f.Department
	if department == "" {
		department = c.department
	}
	maxChats := c.maxChats
	if maxChats <= 0 {
		maxChats = h.cfg.DefaultMaxChats
	}

	s := types.StaffPresence{
		StaffID:            c.userID,
		DisplayName:        f.DisplayName,
		Department:         department,
		ConnectionID:       c.connectionID,
		Status:             types.StaffOnline,
		JoinTime:           time.Now(),
		MaxConcurrentChats: maxChats,
	}
	if err := h.store.UpsertStaff(ctx, s); err != nil {
		h.logger.Error().Err(err).Str("staff_id", c.userID).Msg("failed to save staff presence")
		h.sendError(c, types.FrameJoinStaff, "presence unavailable, try again")
		return
	}

	c.displayName = f.DisplayName
	h.mu.Lock()
	h.staff[c.userID] = c
	h.mu.Unlock()

	h.logger.Info().
		Str("staff_id", c.userID).
		Str("department", department).
		Msg("staff joined queue")

	joined := newFrame(types.EvtStaffJoined)
	joined.Staff = &s
	h.broadcastAll(joined)
	h.pushOnlineStaff(ctx)

	h.publish(bus.TopicStaffStatus, s.StaffID, types.EventStaffStatusChange, types.StaffStatusEvent{
		StaffID:    s.StaffID,
		Department: s.Department,
		OldStatus:  types.StaffOffline,
		NewStatus:  types.StaffOnline,
		ChangedAt:  time.Now(),
	})
}

// SendMessageToStaff persists a visitor message, resolves (or creates) the
// assignment and relays the message to the assigned staff member's live
// connection
func (h *ChatHub) SendMessageToStaff(c *Client, f types.VisitorMessageFrame) {
	if f.Content == "" {
		h.sendError(c, types.FrameMessageToStaff, "content is required")
		return
	}
	ctx := context.Background()

	visitor, err := h.store.GetVisitor(ctx, c.userID)
	if err != nil {
		h.sendError(c, types.FrameMessageToStaff, "join before sending messages")
		return
	}

	staffID, sessionID, ok := h.resolveAssignment(ctx, c, visitor)
	if !ok {
		return
	}

	msg := types.ChatMessage{
		MessageID:   uuid.New().String(),
		SessionID:   sessionID,
		SenderID:    c.userID,
		SenderName:  c.displayName,
		Content:     f.Content,
		Timestamp:   time.Now(),
		Type:        types.MessageText,
		IsFromStaff: false,
	}
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		h.logger.Error().Err(err).
			Str("session_id", sessionID).
			Str("user_id", c.userID).
			Msg("failed to persist visitor message")
		h.sendError(c, types.FrameMessageToStaff, "message not delivered, try again")
		return
	}

	receive := newFrame(types.EvtReceiveMessage)
	receive.Message = &msg
	if !h.sendToStaff(staffID, receive) {
		// Staff is assigned but not connected to this hub instance; the
		// bus event below still reaches their instance.
		h.logger.Debug().Str("staff_id", staffID).Msg("assigned staff has no local connection")
	}

	h.publish(bus.TopicChatMessage, sessionID, types.EventMessage, types.MessageEvent{
		Message:    msg,
		RoutingKey: bus.RouteTypePrivate,
	})
}

// resolveAssignment returns the visitor's staff member and session,
// running the assignment engine when the visitor is not mapped yet. A
// false return means the visitor has already been answered (no capacity,
// or an error frame).
func (h *ChatHub) resolveAssignment(ctx context.Context, c *Client, visitor types.VisitorPresence) (staffID, sessionID string, ok bool) {
	staffID, err := h.store.GetAssignment(ctx, c.userID)
	if err == nil {
		if visitor.SessionID == "" {
			// Mapping without a session record; should not happen, but a
			// fresh session keeps the conversation going.
			h.logger.Warn().Str("user_id", c.userID).Str("staff_id", staffID).Msg("assignment without session, recreating")
			sess, cerr := h.sessions.Create(ctx, c.userID, staffID)
			if cerr != nil {
				h.sendError(c, types.FrameMessageToStaff, "session unavailable, try again")
				return "", "", false
			}
			h.saveVisitorSession(ctx, visitor, sess.SessionID)
			return staffID, sess.SessionID, true
		}
		return staffID, visitor.SessionID, true
	}
	if !errors.Is(err, presence.ErrNotFound) {
		h.sendError(c, types.FrameMessageToStaff, "assignment unavailable, try again")
		return "", "", false
	}

	// Unassigned: run the engine. A visitor whose session went to Waiting
	// keeps that session; a first-time sender gets a new one.
	var a assign.Assignment
	if visitor.SessionID != "" {
		a, err = h.engine.Reassign(ctx, c.userID, visitor.SessionID)
	} else {
		a, err = h.engine.AssignVisitor(ctx, c.userID)
	}
	if errors.Is(err, assign.ErrNoStaffAvailable) {
		if visitor.SessionID != "" {
			if terr := h.sessions.Transition(ctx, visitor.SessionID, types.SessionWaiting); terr != nil {
				h.logger.Warn().Err(terr).Str("session_id", visitor.SessionID).Msg("failed to park session as waiting")
			}
		}
		h.pushTo(c, newFrame(types.EvtNoStaffAvailable))
		return "", "", false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", c.userID).Msg("assignment failed")
		h.sendError(c, types.FrameMessageToStaff, "assignment failed, try again")
		return "", "", false
	}

	h.saveVisitorSession(ctx, visitor, a.SessionID)
	h.announceAssignment(c, visitor, a, types.ReasonAssigned)
	return a.Staff.StaffID, a.SessionID, true
}

// saveVisitorSession pins the session ID onto the visitor's presence record
func (h *ChatHub) saveVisitorSession(ctx context.Context, visitor types.VisitorPresence, sessionID string) {
	visitor.SessionID = sessionID
	if err := h.store.UpsertVisitor(ctx, visitor); err != nil {
		h.logger.Error().Err(err).
			Str("user_id", visitor.UserID).
			Str("session_id", sessionID).
			Msg("failed to pin session on visitor presence")
	}
}

// announceAssignment notifies both ends of a new assignment and publishes
// the visitor-assignment event
func (h *ChatHub) announceAssignment(c *Client, visitor types.VisitorPresence, a assign.Assignment, reason types.AssignmentReason) {
	payload := &types.AssignedPayload{
		VisitorID:   visitor.UserID,
		VisitorName: visitor.DisplayName,
		StaffID:     a.Staff.StaffID,
		StaffName:   a.Staff.DisplayName,
		SessionID:   a.SessionID,
		Reason:      string(reason),
	}

	event := types.EvtStaffAssigned
	if reason == types.ReasonTransferred {
		event = types.EvtVisitorReassigned
	}

	toStaff := newFrame(event)
	toStaff.Assignment = payload
	h.sendToStaff(a.Staff.StaffID, toStaff)

	if c != nil {
		toVisitor := newFrame(types.EvtStaffAssigned)
		toVisitor.Assignment = payload
		h.pushTo(c, toVisitor)
	}

	h.publish(bus.TopicAssignment, visitor.UserID, types.EventVisitorAssignment, types.AssignmentEvent{
		VisitorID: visitor.UserID,
		StaffID:   a.Staff.StaffID,
		SessionID: a.SessionID,
		Reason:    reason,
	})
}

// SendMessageToVisitor persists a staff reply and delivers it to the
// visitor's connection
func (h *ChatHub) SendMessageToVisitor(c *Client, f types.StaffMessageFrame) {
	if f.Content == "" || f.ConnectionID == "" {
		h.sendError(c, types.FrameMessageToVisitor, "connectionId and content are required")
		return
	}
	ctx := context.Background()

	visitor, err := h.store.GetVisitorByConnection(ctx, f.ConnectionID)
	if err != nil {
		h.sendError(c, types.FrameMessageToVisitor, "visitor is no longer connected")
		return
	}

	msg := types.ChatMessage{
		MessageID:   uuid.New().String(),
		SessionID:   visitor.SessionID,
		SenderID:    c.userID,
		SenderName:  c.displayName,
		Content:     f.Content,
		Timestamp:   time.Now(),
		Type:        types.MessageText,
		IsFromStaff: true,
	}
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		h.logger.Error().Err(err).
			Str("session_id", visitor.SessionID).
			Str("staff_id", c.userID).
			Msg("failed to persist staff message")
		h.sendError(c, types.FrameMessageToVisitor, "message not delivered, try again")
		return
	}

	receive := newFrame(types.EvtReceiveMessage)
	receive.Message = &msg
	h.sendToConnection(f.ConnectionID, receive)

	h.publish(bus.TopicChatMessage, visitor.SessionID, types.EventMessage, types.MessageEvent{
		Message:    msg,
		RoutingKey: bus.RouteTypePrivate,
	})
}

// SetStaffStatus flips a staff member between busy and available,
// publishes the change and re-broadcasts the staff list
func (h *ChatHub) SetStaffStatus(c *Client, status types.StaffStatus) {
	op := types.FrameStaffAvailable
	if status == types.StaffBusy {
		op = types.FrameStaffBusy
	}
	ctx := context.Background()

	s, err := h.store.GetStaff(ctx, c.userID)
	if err != nil {
		h.sendError(c, op, "join the staff queue first")
		return
	}
	if s.Status == status {
		return
	}

	old := s.Status
	s.Status = status
	if err := h.store.UpsertStaff(ctx, s); err != nil {
		h.logger.Error().Err(err).Str("staff_id", c.userID).Msg("failed to update staff status")
		h.sendError(c, op, "status unavailable, try again")
		return
	}

	changed := newFrame(types.EvtStaffStatusChanged)
	changed.Status = &types.StatusPayload{StaffID: s.StaffID, Status: status}
	h.broadcastAll(changed)
	h.pushOnlineStaff(ctx)

	h.publish(bus.TopicStaffStatus, s.StaffID, types.EventStaffStatusChange, types.StaffStatusEvent{
		StaffID:    s.StaffID,
		Department: s.Department,
		OldStatus:  old,
		NewStatus:  status,
		ChangedAt:  time.Now(),
	})
}

// RelayTyping forwards a typing start/stop signal to the conversation peer
func (h *ChatHub) RelayTyping(c *Client, f types.TypingFrame) {
	event := types.EvtUserTyping
	if f.Type == types.FrameStopTyping {
		event = types.EvtUserStoppedTyping
	}

	frame := newFrame(event)
	frame.Typing = &types.TypingPayload{UserID: c.userID, DisplayName: c.displayName}

	ctx := context.Background()
	if f.ConnectionID != "" {
		h.sendToConnection(f.ConnectionID, frame)
		return
	}

	// Visitor side: the peer is the assigned staff member
	staffID, err := h.store.GetAssignment(ctx, c.userID)
	if err != nil {
		return
	}
	h.sendToStaff(staffID, frame)
}

// visitorDisconnected runs the visitor cleanup chain: presence removal,
// assignment release, staff notification and the visitor-list broadcast
func (h *ChatHub) visitorDisconnected(c *Client) {
	ctx := context.Background()

	visitor, verr := h.store.GetVisitor(ctx, c.userID)
	if err := h.store.RemoveVisitor(ctx, c.userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", c.userID).Msg("failed to remove visitor presence")
	}

	staffID, err := h.engine.Release(ctx, c.userID)
	switch {
	case errors.Is(err, presence.ErrNotFound):
		// Never assigned, nothing to release

	case err != nil:
		h.logger.Error().Err(err).Str("user_id", c.userID).Msg("failed to release visitor assignment")

	default:
		if verr == nil && visitor.SessionID != "" {
			if eerr := h.sessions.End(ctx, visitor.SessionID); eerr != nil {
				h.logger.Error().Err(eerr).Str("session_id", visitor.SessionID).Msg("failed to end session on visitor disconnect")
			}
		}

		gone := newFrame(types.EvtVisitorDisconnected)
		gone.User = &types.VisitorPresence{UserID: c.userID, DisplayName: c.displayName, ConnectionID: c.connectionID}
		h.sendToStaff(staffID, gone)

		h.publish(bus.TopicSystemNotice, c.userID, types.EventSystemNotice, types.SystemNoticeEvent{
			Subject: "visitor_disconnected",
			Body:    fmt.Sprintf("visitor %s left the conversation", c.userID),
			StaffID: staffID,
			UserID:  c.userID,
		})
		h.publish(bus.TopicAssignment, c.userID, types.EventVisitorAssignment, types.AssignmentEvent{
			VisitorID: c.userID,
			StaffID:   staffID,
			SessionID: visitor.SessionID,
			Reason:    types.ReasonReleased,
		})
	}

	h.logger.Info().Str("user_id", c.userID).Msg("visitor disconnected")

	left := newFrame(types.EvtUserDisconnected)
	left.User = &types.VisitorPresence{UserID: c.userID, DisplayName: c.displayName, ConnectionID: c.connectionID}
	h.broadcastStaff(left)
	h.pushOnlineUsers(ctx)
}

// staffDisconnected runs the staff cleanup chain: presence removal,
// orphaned-visitor reassignment, the offline status event and the
// staff-list broadcast
func (h *ChatHub) staffDisconnected(c *Client) {
	ctx := context.Background()

	s, serr := h.store.GetStaff(ctx, c.userID)
	if err := h.store.RemoveStaff(ctx, c.userID); err != nil {
		h.logger.Error().Err(err).Str("staff_id", c.userID).Msg("failed to remove staff presence")
	}

	orphans, err := h.store.VisitorsAssignedTo(ctx, c.userID)
	if err != nil && !errors.Is(err, presence.ErrNotFound) {
		h.logger.Error().Err(err).Str("staff_id", c.userID).Msg("failed to list orphaned visitors")
	}
	for _, visitorID := range orphans {
		h.reassignOrphan(ctx, visitorID, c.userID)
	}

	h.logger.Info().
		Str("staff_id", c.userID).
		Int("orphaned_visitors", len(orphans)).
		Msg("staff disconnected")

	gone := newFrame(types.EvtStaffDisconnected)
	gone.Staff = &types.StaffPresence{StaffID: c.userID, DisplayName: c.displayName, Status: types.StaffOffline}
	h.broadcastAll(gone)
	h.pushOnlineStaff(ctx)

	department := ""
	oldStatus := types.StaffOnline
	if serr == nil {
		department = s.Department
		oldStatus = s.Status
	}
	h.publish(bus.TopicStaffStatus, c.userID, types.EventStaffStatusChange, types.StaffStatusEvent{
		StaffID:    c.userID,
		Department: department,
		OldStatus:  oldStatus,
		NewStatus:  types.StaffOffline,
		ChangedAt:  time.Now(),
	})
}

// reassignOrphan moves one visitor off a departed staff member. The old
// mapping and slot go first so the engine never re-picks the departed
// staff from stale state; exclude covers the window before presence
// removal lands.
func (h *ChatHub) reassignOrphan(ctx context.Context, visitorID, departedStaffID string) {
	if _, err := h.engine.Release(ctx, visitorID); err != nil && !errors.Is(err, presence.ErrNotFound) {
		h.logger.Error().Err(err).
			Str("visitor_id", visitorID).
			Str("staff_id", departedStaffID).
			Msg("failed to release orphaned visitor")
	}

	visitor, err := h.store.GetVisitor(ctx, visitorID)
	if err != nil {
		h.logger.Warn().Err(err).Str("visitor_id", visitorID).Msg("orphaned visitor no longer present")
		return
	}

	var a assign.Assignment
	if visitor.SessionID != "" {
		a, err = h.engine.Reassign(ctx, visitorID, visitor.SessionID, departedStaffID)
	} else {
		a, err = h.engine.AssignVisitor(ctx, visitorID, departedStaffID)
	}
	if errors.Is(err, assign.ErrNoStaffAvailable) {
		if visitor.SessionID != "" {
			if terr := h.sessions.Transition(ctx, visitor.SessionID, types.SessionWaiting); terr != nil {
				h.logger.Warn().Err(terr).Str("session_id", visitor.SessionID).Msg("failed to park orphaned session as waiting")
			}
		}
		h.mu.RLock()
		vc := h.visitors[visitorID]
		h.mu.RUnlock()
		if vc != nil {
			h.pushTo(vc, newFrame(types.EvtNoStaffAvailable))
		}
		return
	}
	if err != nil {
		h.logger.Error().Err(err).
			Str("visitor_id", visitorID).
			Str("staff_id", departedStaffID).
			Msg("failed to reassign orphaned visitor")
		return
	}

	if a.SessionID != visitor.SessionID {
		h.saveVisitorSession(ctx, visitor, a.SessionID)
	}

	h.mu.RLock()
	vc := h.visitors[visitorID]
	h.mu.RUnlock()
	h.announceAssignment(vc, visitor, a, types.ReasonTransferred)
}
