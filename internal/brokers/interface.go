// Package brokers delivers connection events to external message systems.
// Every Broker satisfies the token manager's Publisher, and a Fanout sends
// each event to all configured brokers.
package brokers

import (
	"context"
	"time"
)

// HealthTimeout bounds a single broker health probe
const HealthTimeout = 3 * time.Second

// Broker publishes JSON events to one destination
type Broker interface {
	Name() string
	Publish(ctx context.Context, channel string, payload interface{}) error
	Health() error
	Close() error
}

// BrokerConfig is implemented by each broker's settings
type BrokerConfig interface {
	Validate() error
	GetType() string
}

// Message is the broker-neutral envelope built from a payload
type Message struct {
	ID        string
	Channel   string
	Type      string
	Key       string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
}

// Typed payloads expose a routing type, used as the RabbitMQ routing key and
// as a message attribute elsewhere
type Typed interface {
	EventType() string
}

// Keyed payloads expose an ordering key for partitioned brokers
type Keyed interface {
	OrderingKey() string
}
