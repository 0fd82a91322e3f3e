package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/renewtech/livechat/backend/internal/presence"
	"github.com/renewtech/livechat/backend/internal/types"
	"github.com/rs/zerolog"
)

// ErrSessionEnded is returned when a caller tries to mutate a session that
// has already reached its terminal state
var ErrSessionEnded = errors.New("session: already ended")

// ErrNotFound is returned when the session does not exist
var ErrNotFound = errors.New("session: not found")

// Archiver receives ended sessions with their cached transcript for the
// non-core persistence path
type Archiver interface {
	ArchiveSession(sess types.ChatSession, transcript []types.ChatMessage) error
}

// Manager owns chat session lifecycle: Active is the entry state, Waiting
// covers visitors without an eligible staff member, Transferred is the
// pass-through state on reassignment, Ended is terminal.
type Manager struct {
	store    presence.Store
	archiver Archiver
	logger   zerolog.Logger
}

// NewManager creates a session Manager on top of the presence store
func NewManager(store presence.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// SetArchiver sets the persistence sink for ended sessions
func (m *Manager) SetArchiver(a Archiver) {
	m.archiver = a
}

// Create opens a new Active session between a visitor and a staff member
func (m *Manager) Create(ctx context.Context, visitorID, staffID string) (types.ChatSession, error) {
	sess := types.ChatSession{
		SessionID: uuid.New().String(),
		VisitorID: visitorID,
		StaffID:   staffID,
		StartTime: time.Now(),
		Status:    types.SessionActive,
	}

	if err := m.store.SaveSession(ctx, sess); err != nil {
		return types.ChatSession{}, fmt.Errorf("create session for visitor %s: %w", visitorID, err)
	}

	m.logger.Debug().
		Str("session_id", sess.SessionID).
		Str("visitor_id", visitorID).
		Str("staff_id", staffID).
		Msg("session created")

	return sess, nil
}

// Get returns the session or ErrNotFound
func (m *Manager) Get(ctx context.Context, sessionID string) (types.ChatSession, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			return types.ChatSession{}, ErrNotFound
		}
		return types.ChatSession{}, err
	}
	return sess, nil
}

// Transition moves a session to a new status. Transitions out of Ended are
// rejected as logged no-ops.
func (m *Manager) Transition(ctx context.Context, sessionID string, status types.SessionStatus) error {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.Status == types.SessionEnded {
		m.logger.Warn().
			Str("session_id", sessionID).
			Str("requested", string(status)).
			Msg("ignoring transition out of ended session")
		return ErrSessionEnded
	}

	sess.Status = status
	if status == types.SessionEnded {
		now := time.Now()
		sess.EndTime = &now
	}

	if err := m.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("transition session %s to %s: %w", sessionID, status, err)
	}
	return nil
}

// Transfer hands a session to a new staff member. The session passes
// through Transferred and settles back on Active with the new staff ID.
func (m *Manager) Transfer(ctx context.Context, sessionID, newStaffID string) error {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.Status == types.SessionEnded {
		m.logger.Warn().
			Str("session_id", sessionID).
			Str("new_staff_id", newStaffID).
			Msg("ignoring transfer of ended session")
		return ErrSessionEnded
	}

	sess.Status = types.SessionTransferred
	sess.StaffID = newStaffID
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("transfer session %s to %s: %w", sessionID, newStaffID, err)
	}

	sess.Status = types.SessionActive
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("reactivate transferred session %s: %w", sessionID, err)
	}

	m.logger.Debug().
		Str("session_id", sessionID).
		Str("staff_id", newStaffID).
		Msg("session transferred")
	return nil
}

// End closes a session and hands it to the archiver. A second End is a
// no-op; the archive write happens off the caller's path.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	if err := m.Transition(ctx, sessionID, types.SessionEnded); err != nil {
		if errors.Is(err, ErrSessionEnded) {
			return nil
		}
		return err
	}

	if m.archiver == nil {
		return nil
	}

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	transcript, err := m.store.RecentMessages(ctx, sessionID, 0)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to read transcript for archive")
		transcript = nil
	}

	go func() {
		if err := m.archiver.ArchiveSession(sess, transcript); err != nil {
			m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to archive session")
		}
	}()
	return nil
}
