package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/renewtech/livechat/backend/internal/bus"
	"github.com/renewtech/livechat/backend/internal/types"
)

func mustEnvelope(t *testing.T, kind types.EventKind, payload interface{}) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestCollectorCountsMessages(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env := mustEnvelope(t, types.EventMessage, types.MessageEvent{
			Message:    types.ChatMessage{MessageID: "m", Content: "hi"},
			RoutingKey: bus.RouteTypePrivate,
		})
		if err := c.Handle(ctx, env); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	env := mustEnvelope(t, types.EventMessage, types.MessageEvent{RoutingKey: bus.RouteTypePublic})
	if err := c.Handle(ctx, env); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	snap := c.Snapshot()
	if snap.MessagesTotal != 4 {
		t.Errorf("expected 4 messages, got %d", snap.MessagesTotal)
	}
	if snap.MessagesByRoute[bus.RouteTypePrivate] != 3 {
		t.Errorf("expected 3 private messages, got %d", snap.MessagesByRoute[bus.RouteTypePrivate])
	}
	if snap.MessagesByRoute[bus.RouteTypePublic] != 1 {
		t.Errorf("expected 1 public message, got %d", snap.MessagesByRoute[bus.RouteTypePublic])
	}
}

func TestCollectorCountsAssignmentsByCause(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	ctx := context.Background()

	reasons := []types.AssignmentReason{
		types.ReasonAssigned, types.ReasonAssigned, types.ReasonTransferred, types.ReasonReleased,
	}
	for _, r := range reasons {
		env := mustEnvelope(t, types.EventVisitorAssignment, types.AssignmentEvent{
			VisitorID: "v1", StaffID: "s1", SessionID: "sess", Reason: r,
		})
		if err := c.Handle(ctx, env); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	snap := c.Snapshot()
	if snap.AssignmentsByCause[types.ReasonAssigned] != 2 {
		t.Errorf("expected 2 assigned, got %d", snap.AssignmentsByCause[types.ReasonAssigned])
	}
	if snap.AssignmentsByCause[types.ReasonTransferred] != 1 {
		t.Errorf("expected 1 transferred, got %d", snap.AssignmentsByCause[types.ReasonTransferred])
	}
	if snap.AssignmentsByCause[types.ReasonReleased] != 1 {
		t.Errorf("expected 1 released, got %d", snap.AssignmentsByCause[types.ReasonReleased])
	}
}

func TestCollectorMalformedPayloadNotRedelivered(t *testing.T) {
	c := NewCollector(zerolog.Nop())

	env := bus.Envelope{ID: "x", Kind: types.EventMessage, Payload: json.RawMessage(`"not an object"`)}
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("expected nil error for malformed payload, got %v", err)
	}
	if snap := c.Snapshot(); snap.DecodeErrorsTotal != 1 {
		t.Errorf("expected 1 decode error, got %d", snap.DecodeErrorsTotal)
	}
}

func TestStatsHandlerServesJSON(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	env := mustEnvelope(t, types.EventStaffStatusChange, types.StaffStatusEvent{
		StaffID: "s1", OldStatus: types.StaffOnline, NewStatus: types.StaffBusy,
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
	rec := httptest.NewRecorder()
	c.Handler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snap.StatusChangesTotal != 1 {
		t.Errorf("expected 1 status change, got %d", snap.StatusChangesTotal)
	}
}
