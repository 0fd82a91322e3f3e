package types

import "time"

// Inbound frame types accepted by the hub. Every frame carries a "type"
// discriminator; the hub decodes the envelope first and then the full frame.
const (
	FrameJoinVisitor      = "join_visitor"
	FrameJoinStaff        = "join_staff"
	FrameMessageToStaff   = "message_to_staff"
	FrameMessageToVisitor = "message_to_visitor"
	FrameTyping           = "typing"
	FrameStopTyping       = "stop_typing"
	FrameStaffBusy        = "staff_busy"
	FrameStaffAvailable   = "staff_available"
)

// JoinVisitorFrame is sent by a visitor right after connecting
type JoinVisitorFrame struct {
	Type        string `json:"type"` // "join_visitor"
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// JoinStaffFrame is sent by a staff member right after connecting
type JoinStaffFrame struct {
	Type        string `json:"type"` // "join_staff"
	DisplayName string `json:"displayName"`
	Department  string `json:"department"`
}

// VisitorMessageFrame carries a visitor's message towards support
type VisitorMessageFrame struct {
	Type    string `json:"type"` // "message_to_staff"
	Content string `json:"content"`
}

// StaffMessageFrame carries a staff reply towards a specific visitor
// connection
type StaffMessageFrame struct {
	Type         string `json:"type"` // "message_to_visitor"
	ConnectionID string `json:"connectionId"`
	Content      string `json:"content"`
}

// TypingFrame signals typing start/stop towards the conversation peer.
// Visitors omit ConnectionID (the peer is their assigned staff member);
// staff set it to pick which of their visitors to signal.
type TypingFrame struct {
	Type         string `json:"type"` // "typing" or "stop_typing"
	ConnectionID string `json:"connectionId,omitempty"`
}

// Outbound event names pushed to connections
const (
	EvtUserJoined          = "UserJoined"
	EvtUserDisconnected    = "UserDisconnected"
	EvtUpdateOnlineUsers   = "UpdateOnlineUsers"
	EvtUpdateOnlineStaff   = "UpdateOnlineStaff"
	EvtReceiveMessage      = "ReceiveMessage"
	EvtStaffAssigned       = "StaffAssigned"
	EvtNoStaffAvailable    = "NoStaffAvailable"
	EvtVisitorDisconnected = "VisitorDisconnected"
	EvtVisitorReassigned   = "VisitorReassigned"
	EvtStaffStatusChanged  = "StaffStatusChanged"
	EvtStaffJoined         = "StaffJoined"
	EvtStaffDisconnected   = "StaffDisconnected"
	EvtUserTyping          = "UserTyping"
	EvtUserStoppedTyping   = "UserStoppedTyping"
	EvtError               = "Error"
)

// ServerFrame is the envelope for every event the hub pushes to a
// connection. Exactly one payload field is set, matching Event.
type ServerFrame struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	User       *VisitorPresence  `json:"user,omitempty"`
	Staff      *StaffPresence    `json:"staff,omitempty"`
	Users      []VisitorPresence `json:"users,omitempty"`
	StaffList  []StaffPresence   `json:"staffList,omitempty"`
	Message    *ChatMessage      `json:"message,omitempty"`
	Assignment *AssignedPayload  `json:"assignment,omitempty"`
	Status     *StatusPayload    `json:"status,omitempty"`
	Typing     *TypingPayload    `json:"typingUser,omitempty"`
	Notice     string            `json:"notice,omitempty"`
	Error      *ErrorPayload     `json:"error,omitempty"`
}

// AssignedPayload describes an assignment pushed to visitor or staff
type AssignedPayload struct {
	VisitorID   string `json:"visitorId"`
	VisitorName string `json:"visitorName,omitempty"`
	StaffID     string `json:"staffId"`
	StaffName   string `json:"staffName,omitempty"`
	SessionID   string `json:"sessionId"`
	Reason      string `json:"reason,omitempty"`
}

// StatusPayload describes a staff status change
type StatusPayload struct {
	StaffID string      `json:"staffId"`
	Status  StaffStatus `json:"status"`
}

// TypingPayload identifies who is typing
type TypingPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// ErrorPayload is pushed to the initiating connection when an operation
// fails. The connection itself stays open.
type ErrorPayload struct {
	Op     string `json:"op"`
	Reason string `json:"reason"`
}
