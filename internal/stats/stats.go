package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renewtech/livechat/backend/internal/bus"
	"github.com/renewtech/livechat/backend/internal/types"
)

// Collector accumulates chat activity counters from bus events
type Collector struct {
	mu sync.RWMutex

	MessagesTotal      int64
	MessagesByRoute    map[string]int64
	AssignmentsByCause map[types.AssignmentReason]int64
	StatusChangesTotal int64
	NoticesTotal       int64
	DecodeErrorsTotal  int64

	startTime time.Time
	logger    zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		MessagesByRoute:    make(map[string]int64),
		AssignmentsByCause: make(map[types.AssignmentReason]int64),
		startTime:          time.Now(),
		logger:             logger.With().Str("component", "stats").Logger(),
	}
}

// Handle is the bus.Handler applied to every consumed envelope.
// Decode failures are counted but not returned, so a malformed
// payload is not redelivered forever.
func (c *Collector) Handle(_ context.Context, env bus.Envelope) error {
	switch env.Kind {
	case types.EventMessage:
		var evt types.MessageEvent
		if err := env.Decode(&evt); err != nil {
			c.recordDecodeError(env, err)
			return nil
		}
		c.mu.Lock()
		c.MessagesTotal++
		c.MessagesByRoute[evt.RoutingKey]++
		c.mu.Unlock()

	case types.EventStaffStatusChange:
		c.mu.Lock()
		c.StatusChangesTotal++
		c.mu.Unlock()

	case types.EventVisitorAssignment:
		var evt types.AssignmentEvent
		if err := env.Decode(&evt); err != nil {
			c.recordDecodeError(env, err)
			return nil
		}
		c.mu.Lock()
		c.AssignmentsByCause[evt.Reason]++
		c.mu.Unlock()

	case types.EventSystemNotice:
		c.mu.Lock()
		c.NoticesTotal++
		c.mu.Unlock()

	default:
		c.logger.Debug().Str("kind", string(env.Kind)).Msg("ignoring unknown event kind")
	}
	return nil
}

func (c *Collector) recordDecodeError(env bus.Envelope, err error) {
	c.mu.Lock()
	c.DecodeErrorsTotal++
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("id", env.ID).Str("kind", string(env.Kind)).Msg("failed to decode event payload")
}

// Snapshot is the JSON shape served by the stats endpoint
type Snapshot struct {
	UptimeSeconds      float64                          `json:"uptime_seconds"`
	MessagesTotal      int64                            `json:"messages_total"`
	MessagesByRoute    map[string]int64                 `json:"messages_by_route"`
	AssignmentsByCause map[types.AssignmentReason]int64 `json:"assignments_by_cause"`
	StatusChangesTotal int64                            `json:"status_changes_total"`
	NoticesTotal       int64                            `json:"notices_total"`
	DecodeErrorsTotal  int64                            `json:"decode_errors_total"`
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds:      time.Since(c.startTime).Seconds(),
		MessagesTotal:      c.MessagesTotal,
		MessagesByRoute:    make(map[string]int64, len(c.MessagesByRoute)),
		AssignmentsByCause: make(map[types.AssignmentReason]int64, len(c.AssignmentsByCause)),
		StatusChangesTotal: c.StatusChangesTotal,
		NoticesTotal:       c.NoticesTotal,
		DecodeErrorsTotal:  c.DecodeErrorsTotal,
	}
	for k, v := range c.MessagesByRoute {
		snap.MessagesByRoute[k] = v
	}
	for k, v := range c.AssignmentsByCause {
		snap.AssignmentsByCause[k] = v
	}
	return snap
}

// Handler returns an HTTP handler for the /internal/stats endpoint
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			c.logger.Error().Err(err).Msg("failed to encode stats snapshot")
		}
	}
}
