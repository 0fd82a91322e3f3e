package types

import "time"

// Event kinds published to the bus. Each kind maps 1:1 to a payload type
// below so consumers never see untyped metadata bags.
type EventKind string

const (
	EventMessage           EventKind = "message"
	EventStaffStatusChange EventKind = "staff_status_change"
	EventVisitorAssignment EventKind = "visitor_assignment"
	EventSystemNotice      EventKind = "system_notification"
)

// MessageEvent is published for every persisted chat message
type MessageEvent struct {
	Message    ChatMessage `json:"message"`
	RoutingKey string      `json:"routingKey"` // "private" or "public"
}

// StaffStatusEvent is published on every staff status transition
type StaffStatusEvent struct {
	StaffID    string      `json:"staffId"`
	Department string      `json:"department"`
	OldStatus  StaffStatus `json:"oldStatus"`
	NewStatus  StaffStatus `json:"newStatus"`
	ChangedAt  time.Time   `json:"changedAt"`
}

// AssignmentEvent is published when a visitor is assigned, transferred
// or released
type AssignmentEvent struct {
	VisitorID string           `json:"visitorId"`
	StaffID   string           `json:"staffId"`
	SessionID string           `json:"sessionId,omitempty"`
	Reason    AssignmentReason `json:"reason"`
}

// SystemNoticeEvent carries operational notifications for downstream
// consumers (e.g. a visitor dropping mid-conversation)
type SystemNoticeEvent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	StaffID string `json:"staffId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}
