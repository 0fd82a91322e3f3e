package assign

import (
	"context"
	"errors"
	"fmt"

	"github.com/renewtech/livechat/backend/internal/presence"
	"github.com/renewtech/livechat/backend/internal/session"
	"github.com/renewtech/livechat/backend/internal/types"
	"github.com/rs/zerolog"
)

// ErrNoStaffAvailable means no online staff member has a free slot. This is
// a defined outcome surfaced to the visitor, not an infrastructure failure.
var ErrNoStaffAvailable = errors.New("assign: no staff available")

// Assignment is the result of a successful visitor assignment
type Assignment struct {
	Staff     types.StaffPresence
	SessionID string
}

// Engine picks a staff member for a visitor and applies the assignment:
// slot acquisition, visitor-staff mapping and session creation or transfer.
//
// Selection and reservation are one conditional operation per candidate.
// The slot is acquired with increment-if-below-capacity before the mapping
// is written, so two concurrent assignments racing for the same staff
// member cannot both land; the loser simply falls through to the next
// ranked candidate.
type Engine struct {
	store    presence.Store
	sessions *session.Manager
	strategy Strategy
	logger   zerolog.Logger
}

// NewEngine creates an assignment engine with the least-loaded strategy
func NewEngine(store presence.Store, sessions *session.Manager, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		sessions: sessions,
		strategy: &LeastLoadedFirst{},
		logger:   logger,
	}
}

// AssignVisitor assigns a visitor to the best eligible staff member and
// opens a new Active session. Returns ErrNoStaffAvailable when every online
// staff member is at capacity.
func (e *Engine) AssignVisitor(ctx context.Context, visitorID string, exclude ...string) (Assignment, error) {
	staff, err := e.reserve(ctx, visitorID, exclude)
	if err != nil {
		return Assignment{}, err
	}

	sess, err := e.sessions.Create(ctx, visitorID, staff.StaffID)
	if err != nil {
		e.rollback(ctx, visitorID, staff.StaffID, "create session")
		return Assignment{}, fmt.Errorf("assign visitor %s: %w", visitorID, err)
	}

	e.logger.Info().
		Str("visitor_id", visitorID).
		Str("staff_id", staff.StaffID).
		Str("session_id", sess.SessionID).
		Msg("visitor assigned")

	return Assignment{Staff: staff, SessionID: sess.SessionID}, nil
}

// Reassign moves an orphaned visitor to a new staff member, transferring
// the existing session instead of opening a new one. The departed staff
// member is passed in exclude so they are never re-picked from stale
// presence state.
func (e *Engine) Reassign(ctx context.Context, visitorID, sessionID string, exclude ...string) (Assignment, error) {
	staff, err := e.reserve(ctx, visitorID, exclude)
	if err != nil {
		return Assignment{}, err
	}

	if err := e.sessions.Transfer(ctx, sessionID, staff.StaffID); err != nil {
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrSessionEnded) {
			e.rollback(ctx, visitorID, staff.StaffID, "transfer session")
			return Assignment{}, fmt.Errorf("reassign visitor %s: %w", visitorID, err)
		}
		// Session gone or already closed; the new mapping still stands and
		// the next message will open a fresh session.
		e.logger.Warn().Err(err).
			Str("visitor_id", visitorID).
			Str("session_id", sessionID).
			Msg("reassigned visitor without transferable session")
	}

	e.logger.Info().
		Str("visitor_id", visitorID).
		Str("staff_id", staff.StaffID).
		Str("session_id", sessionID).
		Msg("visitor reassigned")

	return Assignment{Staff: staff, SessionID: sessionID}, nil
}

// Release drops a visitor's mapping and frees the staff slot. Returns the
// previously assigned staff ID, or ErrNotFound if the visitor was
// unassigned.
func (e *Engine) Release(ctx context.Context, visitorID string) (string, error) {
	staffID, err := e.store.GetAssignment(ctx, visitorID)
	if err != nil {
		return "", err
	}

	if err := e.store.RemoveAssignment(ctx, visitorID); err != nil {
		return "", fmt.Errorf("release visitor %s: %w", visitorID, err)
	}
	if err := e.store.ReleaseSlot(ctx, staffID); err != nil {
		// Mapping is gone but the counter still holds the slot; log enough
		// to reconcile by hand.
		e.logger.Error().Err(err).
			Str("visitor_id", visitorID).
			Str("staff_id", staffID).
			Msg("released mapping but slot decrement failed")
		return staffID, err
	}
	return staffID, nil
}

// reserve walks the ranked candidates and returns the first staff member
// whose slot acquisition and mapping write both succeed
func (e *Engine) reserve(ctx context.Context, visitorID string, exclude []string) (types.StaffPresence, error) {
	available, err := e.store.ListAvailableStaff(ctx)
	if err != nil {
		return types.StaffPresence{}, fmt.Errorf("list available staff: %w", err)
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	candidates := make([]Candidate, 0, len(available))
	for _, st := range available {
		if excluded[st.StaffID] {
			continue
		}
		load, err := e.store.GetLoad(ctx, st.StaffID)
		if err != nil {
			e.logger.Warn().Err(err).Str("staff_id", st.StaffID).Msg("skipping candidate, load unreadable")
			continue
		}
		if load >= st.MaxConcurrentChats {
			continue
		}
		candidates = append(candidates, Candidate{Staff: st, Load: load})
	}

	for _, cand := range e.strategy.Rank(candidates) {
		ok, err := e.store.AcquireSlot(ctx, cand.Staff.StaffID, cand.Staff.MaxConcurrentChats)
		if err != nil {
			e.logger.Warn().Err(err).Str("staff_id", cand.Staff.StaffID).Msg("slot acquisition failed, trying next candidate")
			continue
		}
		if !ok {
			// A concurrent assignment filled this staff member first
			continue
		}

		if err := e.store.SetAssignment(ctx, visitorID, cand.Staff.StaffID); err != nil {
			e.releaseSlot(ctx, visitorID, cand.Staff.StaffID, "write mapping")
			return types.StaffPresence{}, fmt.Errorf("assign visitor %s: %w", visitorID, err)
		}
		return cand.Staff, nil
	}

	return types.StaffPresence{}, ErrNoStaffAvailable
}

// rollback undoes a reserved assignment after a downstream step failed
func (e *Engine) rollback(ctx context.Context, visitorID, staffID, step string) {
	if err := e.store.RemoveAssignment(ctx, visitorID); err != nil {
		e.logger.Error().Err(err).
			Str("visitor_id", visitorID).
			Str("staff_id", staffID).
			Str("failed_step", step).
			Msg("rollback: mapping removal failed")
	}
	e.releaseSlot(ctx, visitorID, staffID, step)
}

func (e *Engine) releaseSlot(ctx context.Context, visitorID, staffID, step string) {
	if err := e.store.ReleaseSlot(ctx, staffID); err != nil {
		e.logger.Error().Err(err).
			Str("visitor_id", visitorID).
			Str("staff_id", staffID).
			Str("failed_step", step).
			Msg("rollback: slot release failed, counter needs reconciliation")
	}
}
