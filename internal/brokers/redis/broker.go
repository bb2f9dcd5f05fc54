// Package redis appends connection events to a Redis stream, giving consumers
// a durable, replayable log alongside the fire-and-forget pub/sub channel.
package redis

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"melody-map/internal/brokers"
	"melody-map/internal/common/errors"
)

const (
	DefaultStream = "melody-map:connections:stream"
	DefaultMaxLen = 10000
)

type Config struct {
	Stream string
	MaxLen int64
}

func (c *Config) Validate() error {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.MaxLen < 0 {
		return errors.ConfigError("redis stream max length must not be negative")
	}
	if c.MaxLen == 0 {
		c.MaxLen = DefaultMaxLen
	}
	return nil
}

func (c *Config) GetType() string {
	return "redis_stream"
}

type Broker struct {
	config *Config
	client *redis.Client
}

// NewBroker wraps an already connected client. Closing the broker leaves the client open.
func NewBroker(config *Config, client *redis.Client) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.ConfigError("redis client is required for the stream broker")
	}
	return &Broker{config: config, client: client}, nil
}

func (b *Broker) Name() string {
	return "redis_stream"
}

// Publish appends one entry per event and trims the stream to MaxLen
func (b *Broker) Publish(ctx context.Context, channel string, payload interface{}) error {
	msg, err := brokers.NewMessage(channel, payload)
	if err != nil {
		return err
	}

	values := map[string]interface{}{
		"message_id": msg.ID,
		"channel":    msg.Channel,
		"body":       string(msg.Body),
		"timestamp":  strconv.FormatInt(msg.Timestamp.UnixNano(), 10),
	}
	if msg.Type != "" {
		values["type"] = msg.Type
	}
	if msg.Key != "" {
		values["key"] = msg.Key
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.config.Stream,
		MaxLen: b.config.MaxLen,
		Values: values,
	}).Err()
	if err != nil {
		return errors.ConnectionError("failed to append event to redis stream", err)
	}
	return nil
}

func (b *Broker) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), brokers.HealthTimeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return nil
}

var _ brokers.Broker = (*Broker)(nil)
