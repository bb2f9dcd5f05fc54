package tokens

import (
	"context"
	"time"

	"melody-map/internal/common/logging"
	"melody-map/internal/storage"
)

// EventsChannel is the pub/sub channel connection events are published on
const EventsChannel = "melody-map:connections"

const (
	EventLinked      = "connection.linked"
	EventDeactivated = "connection.deactivated"
	EventExpired     = "connections.expired"
)

const publishTimeout = 2 * time.Second

// Publisher is satisfied by *redis.Client and the brokers fan-out
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Event is the JSON payload published on EventsChannel
type Event struct {
	Type         string           `json:"type"`
	UserID       string           `json:"user_id,omitempty"`
	Platform     storage.Platform `json:"platform,omitempty"`
	ConnectionID string           `json:"connection_id,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Count        int64            `json:"count,omitempty"`
	At           time.Time        `json:"at"`
}

// EventType is the routing key brokers publish the event under
func (e Event) EventType() string { return e.Type }

// OrderingKey keeps one user's events in order on partitioned brokers
func (e Event) OrderingKey() string { return e.UserID }

// publish is best effort. Failures are logged and never reach the caller.
func (m *Manager) publish(ctx context.Context, event Event) {
	if m.events == nil {
		return
	}
	event.At = m.now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := m.events.Publish(ctx, EventsChannel, event); err != nil {
		m.logger.Warn("Failed to publish connection event",
			logging.Field{Key: "event", Value: event.Type},
			logging.Field{Key: "connection_id", Value: event.ConnectionID},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}
