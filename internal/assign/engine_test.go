package assign

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/renewtech/livechat/backend/internal/presence"
	"github.com/renewtech/livechat/backend/internal/session"
	"github.com/renewtech/livechat/backend/internal/types"
	"github.com/rs/zerolog"
)

func newTestEngine() (*Engine, *presence.MemoryStore) {
	store := presence.NewMemoryStore()
	logger := zerolog.New(&bytes.Buffer{})
	sessions := session.NewManager(store, logger)
	return NewEngine(store, sessions, logger), store
}

func addStaff(store *presence.MemoryStore, id string, status types.StaffStatus, capacity int) {
	store.UpsertStaff(context.Background(), types.StaffPresence{
		StaffID:            id,
		DisplayName:        id,
		Status:             status,
		MaxConcurrentChats: capacity,
	})
}

func TestLeastLoadedFirstRanking(t *testing.T) {
	strategy := &LeastLoadedFirst{}

	candidates := []Candidate{
		{Staff: types.StaffPresence{StaffID: "staff-c"}, Load: 2},
		{Staff: types.StaffPresence{StaffID: "staff-b"}, Load: 0},
		{Staff: types.StaffPresence{StaffID: "staff-a"}, Load: 0},
		{Staff: types.StaffPresence{StaffID: "staff-d"}, Load: 1},
	}

	ranked := strategy.Rank(candidates)

	want := []string{"staff-a", "staff-b", "staff-d", "staff-c"}
	for i, id := range want {
		if ranked[i].Staff.StaffID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, ranked[i].Staff.StaffID)
		}
	}

	// Input order must be untouched
	if candidates[0].Staff.StaffID != "staff-c" {
		t.Error("Rank mutated its input")
	}
}

func TestAssignPicksLeastLoaded(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	addStaff(store, "staff-1", types.StaffOnline, 5)
	addStaff(store, "staff-2", types.StaffOnline, 5)
	store.SetLoad(ctx, "staff-1", 3)
	store.SetLoad(ctx, "staff-2", 1)

	got, err := engine.AssignVisitor(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Staff.StaffID != "staff-2" {
		t.Errorf("expected least-loaded staff-2, got %s", got.Staff.StaffID)
	}
	if got.SessionID == "" {
		t.Error("expected a session ID")
	}

	// All three effects landed
	staffID, err := store.GetAssignment(ctx, "visitor-1")
	if err != nil || staffID != "staff-2" {
		t.Errorf("expected mapping to staff-2, got %s (%v)", staffID, err)
	}
	load, _ := store.GetLoad(ctx, "staff-2")
	if load != 2 {
		t.Errorf("expected load 2, got %d", load)
	}
	sess, err := store.GetSession(ctx, got.SessionID)
	if err != nil {
		t.Fatalf("expected session to exist: %v", err)
	}
	if sess.Status != types.SessionActive {
		t.Errorf("expected active session, got %s", sess.Status)
	}
}

func TestAssignSkipsIneligibleStaff(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	addStaff(store, "staff-busy", types.StaffBusy, 5)
	addStaff(store, "staff-away", types.StaffAway, 5)
	addStaff(store, "staff-full", types.StaffOnline, 1)
	store.SetLoad(ctx, "staff-full", 1)

	if _, err := engine.AssignVisitor(ctx, "visitor-1"); err != ErrNoStaffAvailable {
		t.Errorf("expected ErrNoStaffAvailable, got %v", err)
	}

	// Nothing may have been mutated
	if _, err := store.GetAssignment(ctx, "visitor-1"); err != presence.ErrNotFound {
		t.Errorf("expected no mapping, got %v", err)
	}
	load, _ := store.GetLoad(ctx, "staff-full")
	if load != 1 {
		t.Errorf("expected load unchanged at 1, got %d", load)
	}
}

func TestAssignNoStaffAtAll(t *testing.T) {
	engine, _ := newTestEngine()

	if _, err := engine.AssignVisitor(context.Background(), "visitor-1"); err != ErrNoStaffAvailable {
		t.Errorf("expected ErrNoStaffAvailable, got %v", err)
	}
}

func TestAssignTieBreaksByStaffID(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	addStaff(store, "staff-b", types.StaffOnline, 5)
	addStaff(store, "staff-a", types.StaffOnline, 5)

	got, err := engine.AssignVisitor(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Staff.StaffID != "staff-a" {
		t.Errorf("expected deterministic tie-break to staff-a, got %s", got.Staff.StaffID)
	}
}

func TestAssignExcludesStaff(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	addStaff(store, "staff-1", types.StaffOnline, 5)
	addStaff(store, "staff-2", types.StaffOnline, 5)

	got, err := engine.AssignVisitor(ctx, "visitor-1", "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Staff.StaffID != "staff-2" {
		t.Errorf("expected excluded staff-1 to be skipped, got %s", got.Staff.StaffID)
	}
}

func TestReleaseFreesSlotAndMapping(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	addStaff(store, "staff-1", types.StaffOnline, 5)
	if _, err := engine.AssignVisitor(ctx, "visitor-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staffID, err := engine.Release(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if staffID != "staff-1" {
		t.Errorf("expected staff-1, got %s", staffID)
	}

	load, _ := store.GetLoad(ctx, "staff-1")
	if load != 0 {
		t.Errorf("expected load 0 after release, got %d", load)
	}
	if _, err := store.GetAssignment(ctx, "visitor-1"); err != presence.ErrNotFound {
		t.Errorf("expected mapping removed, got %v", err)
	}

	// Releasing an unassigned visitor is not an error state for the store
	if _, err := engine.Release(ctx, "visitor-1"); err != presence.ErrNotFound {
		t.Errorf("expected ErrNotFound for second release, got %v", err)
	}
}

func TestReassignTransfersSession(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	addStaff(store, "staff-1", types.StaffOnline, 5)
	addStaff(store, "staff-2", types.StaffOnline, 5)

	first, err := engine.AssignVisitor(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Staff.StaffID != "staff-1" {
		t.Fatalf("expected staff-1 first, got %s", first.Staff.StaffID)
	}

	// Simulate staff-1 disconnecting: mapping dropped, slot released
	if _, err := engine.Release(ctx, "visitor-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := engine.Reassign(ctx, "visitor-1", first.SessionID, "staff-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Staff.StaffID != "staff-2" {
		t.Errorf("expected reassignment to staff-2, got %s", second.Staff.StaffID)
	}

	sess, _ := store.GetSession(ctx, first.SessionID)
	if sess.StaffID != "staff-2" {
		t.Errorf("expected session handed to staff-2, got %s", sess.StaffID)
	}
	if sess.Status != types.SessionActive {
		t.Errorf("expected session active after transfer, got %s", sess.Status)
	}

	load, _ := store.GetLoad(ctx, "staff-2")
	if load != 1 {
		t.Errorf("expected staff-2 load 1, got %d", load)
	}
}

func TestConcurrentAssignmentsSettleAtCapacity(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	// M staff, capacity C each; N visitors with N > M*C
	const staffCount = 3
	const capacity = 2
	const visitors = 20

	for i := 0; i < staffCount; i++ {
		addStaff(store, fmt.Sprintf("staff-%d", i), types.StaffOnline, capacity)
	}

	var wg sync.WaitGroup
	assigned := make(chan string, visitors)
	rejected := make(chan struct{}, visitors)

	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := engine.AssignVisitor(ctx, fmt.Sprintf("visitor-%d", n))
			switch err {
			case nil:
				assigned <- got.Staff.StaffID
			case ErrNoStaffAvailable:
				rejected <- struct{}{}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(assigned)
	close(rejected)

	wins := 0
	for range assigned {
		wins++
	}
	if wins != staffCount*capacity {
		t.Errorf("expected %d assignments, got %d", staffCount*capacity, wins)
	}

	total := 0
	for i := 0; i < staffCount; i++ {
		load, _ := store.GetLoad(ctx, fmt.Sprintf("staff-%d", i))
		if load > capacity {
			t.Errorf("staff-%d over capacity: %d", i, load)
		}
		total += load
	}
	if total != staffCount*capacity {
		t.Errorf("expected total load %d, got %d", staffCount*capacity, total)
	}
}
