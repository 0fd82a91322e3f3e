package presence

import (
	"context"
	"errors"

	"github.com/renewtech/livechat/backend/internal/types"
)

// ErrNotFound is returned by lookups when the key is absent. Callers treat
// it as a normal outcome, not a failure.
var ErrNotFound = errors.New("presence: not found")

// Store is the shared ephemeral state behind the hub: who is online, who is
// assigned to whom, per-staff load, recent history and session records.
//
// All operations are idempotent on retry. Mutations refresh the expiry of
// the touched keys. Atomicity of the load counter is the store's problem,
// not the caller's: AcquireSlot is a single conditional increment so that
// two concurrent assignments can never both land on a full staff member.
type Store interface {
	// Visitors
	UpsertVisitor(ctx context.Context, v types.VisitorPresence) error
	GetVisitor(ctx context.Context, userID string) (types.VisitorPresence, error)
	GetVisitorByConnection(ctx context.Context, connectionID string) (types.VisitorPresence, error)
	RemoveVisitor(ctx context.Context, userID string) error
	ListVisitors(ctx context.Context) ([]types.VisitorPresence, error)

	// Staff
	UpsertStaff(ctx context.Context, s types.StaffPresence) error
	GetStaff(ctx context.Context, staffID string) (types.StaffPresence, error)
	RemoveStaff(ctx context.Context, staffID string) error
	ListStaff(ctx context.Context) ([]types.StaffPresence, error)
	ListAvailableStaff(ctx context.Context) ([]types.StaffPresence, error)

	// Visitor -> staff assignment
	SetAssignment(ctx context.Context, visitorID, staffID string) error
	GetAssignment(ctx context.Context, visitorID string) (string, error)
	RemoveAssignment(ctx context.Context, visitorID string) error
	VisitorsAssignedTo(ctx context.Context, staffID string) ([]string, error)

	// Per-staff conversation counters. The counter never goes below zero.
	GetLoad(ctx context.Context, staffID string) (int, error)
	SetLoad(ctx context.Context, staffID string, load int) error
	AcquireSlot(ctx context.Context, staffID string, capacity int) (bool, error)
	ReleaseSlot(ctx context.Context, staffID string) error

	// Per-session message history, chronological
	AppendMessage(ctx context.Context, msg types.ChatMessage) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error)

	// Sessions
	SaveSession(ctx context.Context, s types.ChatSession) error
	GetSession(ctx context.Context, sessionID string) (types.ChatSession, error)
}
