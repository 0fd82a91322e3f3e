package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/renewtech/livechat/backend/internal/types"
)

// Durable topics used by the hub
const (
	TopicChatMessage  = "chat-message"
	TopicStaffStatus  = "staff-status-change"
	TopicAssignment   = "visitor-assignment"
	TopicSystemNotice = "system-notification"
)

// Routing keys for chat-message partitioning
const (
	RouteTypePrivate = "private"
	RouteTypePublic  = "public"
)

// Envelope wraps every published event. The unique ID and timestamp let
// consumers deduplicate: delivery is at-least-once, never exactly-once.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      types.EventKind `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a typed payload in a fresh envelope
func NewEnvelope(kind types.EventKind, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the envelope payload into out
func (e Envelope) Decode(out interface{}) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Publisher is the hub's outbound side of the bus. Publish returns an error
// when the broker cannot take the message; events are never silently
// dropped during an outage.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, kind types.EventKind, payload interface{}) error
}

// Handler processes one delivered envelope. A nil return acknowledges the
// message; an error (or panic) leaves it unacknowledged for redelivery.
type Handler func(ctx context.Context, env Envelope) error
