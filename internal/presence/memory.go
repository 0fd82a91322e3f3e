package presence

import (
	"context"
	"sync"

	"github.com/renewtech/livechat/backend/internal/types"
)

// MemoryStore is an in-process Store for tests and single-node development.
// It holds the same invariants as RedisStore (conditional slot acquisition,
// zero-floored counters) behind one mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	visitors    map[string]types.VisitorPresence // userID -> presence
	connections map[string]string                // connectionID -> userID
	staff       map[string]types.StaffPresence   // staffID -> presence
	assignments map[string]string                // visitorID -> staffID
	loads       map[string]int                   // staffID -> active conversations
	history     map[string][]types.ChatMessage   // sessionID -> messages
	sessions    map[string]types.ChatSession     // sessionID -> session
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visitors:    make(map[string]types.VisitorPresence),
		connections: make(map[string]string),
		staff:       make(map[string]types.StaffPresence),
		assignments: make(map[string]string),
		loads:       make(map[string]int),
		history:     make(map[string][]types.ChatMessage),
		sessions:    make(map[string]types.ChatSession),
	}
}

func (s *MemoryStore) UpsertVisitor(_ context.Context, v types.VisitorPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Joining again with the same userID replaces the record, including a
	// possibly new connection ID.
	if old, ok := s.visitors[v.UserID]; ok && old.ConnectionID != v.ConnectionID {
		delete(s.connections, old.ConnectionID)
	}
	s.visitors[v.UserID] = v
	s.connections[v.ConnectionID] = v.UserID
	return nil
}

func (s *MemoryStore) GetVisitor(_ context.Context, userID string) (types.VisitorPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visitors[userID]
	if !ok {
		return types.VisitorPresence{}, ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) GetVisitorByConnection(_ context.Context, connectionID string) (types.VisitorPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.connections[connectionID]
	if !ok {
		return types.VisitorPresence{}, ErrNotFound
	}
	v, ok := s.visitors[userID]
	if !ok {
		return types.VisitorPresence{}, ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) RemoveVisitor(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.visitors[userID]; ok {
		delete(s.connections, v.ConnectionID)
		delete(s.visitors, userID)
	}
	return nil
}

func (s *MemoryStore) ListVisitors(_ context.Context) ([]types.VisitorPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visitors := make([]types.VisitorPresence, 0, len(s.visitors))
	for _, v := range s.visitors {
		visitors = append(visitors, v)
	}
	return visitors, nil
}

func (s *MemoryStore) UpsertStaff(_ context.Context, st types.StaffPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[st.StaffID] = st
	return nil
}

func (s *MemoryStore) GetStaff(_ context.Context, staffID string) (types.StaffPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.staff[staffID]
	if !ok {
		return types.StaffPresence{}, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) RemoveStaff(_ context.Context, staffID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staff, staffID)
	return nil
}

func (s *MemoryStore) ListStaff(_ context.Context) ([]types.StaffPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staff := make([]types.StaffPresence, 0, len(s.staff))
	for _, st := range s.staff {
		staff = append(staff, st)
	}
	return staff, nil
}

func (s *MemoryStore) ListAvailableStaff(_ context.Context) ([]types.StaffPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	available := make([]types.StaffPresence, 0, len(s.staff))
	for _, st := range s.staff {
		if st.Status == types.StaffOnline {
			available = append(available, st)
		}
	}
	return available, nil
}

func (s *MemoryStore) SetAssignment(_ context.Context, visitorID, staffID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[visitorID] = staffID
	return nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, visitorID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staffID, ok := s.assignments[visitorID]
	if !ok {
		return "", ErrNotFound
	}
	return staffID, nil
}

func (s *MemoryStore) RemoveAssignment(_ context.Context, visitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, visitorID)
	return nil
}

func (s *MemoryStore) VisitorsAssignedTo(_ context.Context, staffID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var visitors []string
	for visitorID, assigned := range s.assignments {
		if assigned == staffID {
			visitors = append(visitors, visitorID)
		}
	}
	return visitors, nil
}

func (s *MemoryStore) GetLoad(_ context.Context, staffID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads[staffID], nil
}

func (s *MemoryStore) SetLoad(_ context.Context, staffID string, load int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if load < 0 {
		load = 0
	}
	s.loads[staffID] = load
	return nil
}

func (s *MemoryStore) AcquireSlot(_ context.Context, staffID string, capacity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loads[staffID] >= capacity {
		return false, nil
	}
	s.loads[staffID]++
	return true, nil
}

func (s *MemoryStore) ReleaseSlot(_ context.Context, staffID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loads[staffID] > 0 {
		s.loads[staffID]--
	}
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.history[msg.SessionID], msg)
	if len(msgs) > historyCap {
		msgs = msgs[len(msgs)-historyCap:]
	}
	s.history[msg.SessionID] = msgs
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.history[sessionID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}

	out := make([]types.ChatMessage, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sess types.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.ChatSession{}, ErrNotFound
	}
	return sess, nil
}
