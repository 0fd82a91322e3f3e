package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/renewtech/livechat/backend/internal/types"
)

func TestVisitorUpsertIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	v := types.VisitorPresence{
		UserID:       "visitor-1",
		DisplayName:  "Alice",
		ConnectionID: "conn-1",
		JoinTime:     time.Now(),
	}

	if err := store.UpsertVisitor(ctx, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Joining again with the same userID must update, not duplicate
	v.ConnectionID = "conn-2"
	if err := store.UpsertVisitor(ctx, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	visitors, _ := store.ListVisitors(ctx)
	if len(visitors) != 1 {
		t.Fatalf("expected 1 visitor, got %d", len(visitors))
	}
	if visitors[0].ConnectionID != "conn-2" {
		t.Errorf("expected updated connection conn-2, got %s", visitors[0].ConnectionID)
	}

	// Old reverse lookup must be gone, new one must resolve
	if _, err := store.GetVisitorByConnection(ctx, "conn-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for stale connection, got %v", err)
	}
	got, err := store.GetVisitorByConnection(ctx, "conn-2")
	if err != nil {
		t.Fatalf("reverse lookup failed: %v", err)
	}
	if got.UserID != "visitor-1" {
		t.Errorf("expected visitor-1, got %s", got.UserID)
	}
}

func TestRemoveAbsentVisitorIsNoop(t *testing.T) {
	store := NewMemoryStore()

	if err := store.RemoveVisitor(context.Background(), "ghost"); err != nil {
		t.Errorf("removing an absent visitor should be a no-op, got %v", err)
	}
}

func TestLoadCounterNeverNegative(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Release without acquire must floor at zero
	for i := 0; i < 3; i++ {
		if err := store.ReleaseSlot(ctx, "staff-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	load, _ := store.GetLoad(ctx, "staff-1")
	if load != 0 {
		t.Errorf("expected load 0, got %d", load)
	}

	if err := store.SetLoad(ctx, "staff-1", -5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	load, _ = store.GetLoad(ctx, "staff-1")
	if load != 0 {
		t.Errorf("expected SetLoad to floor at 0, got %d", load)
	}
}

func TestAcquireSlotRespectsCapacity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := store.AcquireSlot(ctx, "staff-1", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("acquire %d should succeed below capacity", i+1)
		}
	}

	ok, err := store.AcquireSlot(ctx, "staff-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("acquire at capacity should fail")
	}

	load, _ := store.GetLoad(ctx, "staff-1")
	if load != 2 {
		t.Errorf("expected load 2, got %d", load)
	}
}

func TestAcquireSlotConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const capacity = 5
	const attempts = 50

	var wg sync.WaitGroup
	acquired := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AcquireSlot(ctx, "staff-1", capacity)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	wins := 0
	for range acquired {
		wins++
	}
	if wins != capacity {
		t.Errorf("expected exactly %d successful acquisitions, got %d", capacity, wins)
	}

	load, _ := store.GetLoad(ctx, "staff-1")
	if load != capacity {
		t.Errorf("expected load %d, got %d", capacity, load)
	}
}

func TestAvailableStaffFiltersByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	statuses := map[string]types.StaffStatus{
		"staff-1": types.StaffOnline,
		"staff-2": types.StaffBusy,
		"staff-3": types.StaffAway,
		"staff-4": types.StaffOnline,
	}
	for id, status := range statuses {
		store.UpsertStaff(ctx, types.StaffPresence{StaffID: id, Status: status})
	}

	available, err := store.ListAvailableStaff(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected 2 available staff, got %d", len(available))
	}
	for _, st := range available {
		if st.Status != types.StaffOnline {
			t.Errorf("staff %s has status %s, expected online", st.StaffID, st.Status)
		}
	}
}

func TestAssignmentLookupByStaff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetAssignment(ctx, "visitor-1", "staff-1")
	store.SetAssignment(ctx, "visitor-2", "staff-1")
	store.SetAssignment(ctx, "visitor-3", "staff-2")

	visitors, err := store.VisitorsAssignedTo(ctx, "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visitors) != 2 {
		t.Errorf("expected 2 visitors assigned to staff-1, got %d", len(visitors))
	}

	staffID, err := store.GetAssignment(ctx, "visitor-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if staffID != "staff-2" {
		t.Errorf("expected staff-2, got %s", staffID)
	}

	if _, err := store.GetAssignment(ctx, "visitor-9"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unassigned visitor, got %v", err)
	}
}

func TestHistoryRoundTripOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		msg := types.ChatMessage{
			MessageID: fmt.Sprintf("msg-%d", i),
			SessionID: "session-1",
			SenderID:  "visitor-1",
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      types.MessageText,
		}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	msgs, err := store.RecentMessages(ctx, "session-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	// Last N in chronological order
	for i, msg := range msgs {
		want := fmt.Sprintf("msg-%d", i+2)
		if msg.MessageID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, msg.MessageID)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("messages out of chronological order at %d", i)
		}
	}
}

func TestHistoryCapped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < historyCap+20; i++ {
		store.AppendMessage(ctx, types.ChatMessage{
			MessageID: fmt.Sprintf("msg-%d", i),
			SessionID: "session-1",
		})
	}

	msgs, _ := store.RecentMessages(ctx, "session-1", 0)
	if len(msgs) != historyCap {
		t.Errorf("expected history capped at %d, got %d", historyCap, len(msgs))
	}
	if msgs[0].MessageID != "msg-20" {
		t.Errorf("expected oldest kept message msg-20, got %s", msgs[0].MessageID)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := types.ChatSession{
		SessionID: "session-1",
		VisitorID: "visitor-1",
		StaffID:   "staff-1",
		StartTime: time.Now(),
		Status:    types.SessionActive,
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != types.SessionActive || got.VisitorID != "visitor-1" {
		t.Errorf("session did not round-trip: %+v", got)
	}

	if _, err := store.GetSession(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
