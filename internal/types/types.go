package types

import "time"

// StaffStatus represents the availability of a support staff member
type StaffStatus string

const (
	StaffOnline  StaffStatus = "online"
	StaffBusy    StaffStatus = "busy"
	StaffAway    StaffStatus = "away"
	StaffOffline StaffStatus = "offline"
)

// SessionStatus represents the lifecycle state of a chat session
type SessionStatus string

const (
	SessionActive      SessionStatus = "active"
	SessionWaiting     SessionStatus = "waiting"
	SessionEnded       SessionStatus = "ended"
	SessionTransferred SessionStatus = "transferred"
)

// MessageType distinguishes chat message payloads
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// VisitorPresence is the record of a currently connected visitor.
// It exists only while the visitor's connection is live.
type VisitorPresence struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	Avatar       string    `json:"avatar,omitempty"`
	ConnectionID string    `json:"connectionId"`
	JoinTime     time.Time `json:"joinTime"`
	SessionID    string    `json:"sessionId,omitempty"`
}

// StaffPresence is the record of a currently connected staff member
type StaffPresence struct {
	StaffID            string      `json:"staffId"`
	DisplayName        string      `json:"displayName"`
	Department         string      `json:"department"`
	ConnectionID       string      `json:"connectionId"`
	Status             StaffStatus `json:"status"`
	JoinTime           time.Time   `json:"joinTime"`
	MaxConcurrentChats int         `json:"maxConcurrentChats"`
}

// ChatMessage is a single message within a session. Immutable once created.
type ChatMessage struct {
	MessageID   string      `json:"messageId"`
	SessionID   string      `json:"sessionId"`
	SenderID    string      `json:"senderId"`
	SenderName  string      `json:"senderName"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        MessageType `json:"type"`
	IsFromStaff bool        `json:"isFromStaff"`
}

// ChatSession is the bounded-lifetime record of one visitor-staff
// conversation, distinct from the underlying network connections
type ChatSession struct {
	SessionID string        `json:"sessionId"`
	VisitorID string        `json:"visitorId"`
	StaffID   string        `json:"staffId"`
	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	Status    SessionStatus `json:"status"`
}

// AssignmentReason says why a visitor-assignment event was published
type AssignmentReason string

const (
	ReasonAssigned    AssignmentReason = "assigned"
	ReasonTransferred AssignmentReason = "transferred"
	ReasonReleased    AssignmentReason = "released"
)
