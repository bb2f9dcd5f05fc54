package redis

import (
	"context"

	"melody-map/internal/brokers"
)

// PubSubClient is satisfied by *redis.Client from internal/redis
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Health() error
}

// ChannelBroker publishes on Redis pub/sub. The client is shared with the rest
// of the app, so Close does not close it.
type ChannelBroker struct {
	client PubSubClient
}

func NewChannelBroker(client PubSubClient) *ChannelBroker {
	return &ChannelBroker{client: client}
}

func (b *ChannelBroker) Name() string {
	return "redis_pubsub"
}

func (b *ChannelBroker) Publish(ctx context.Context, channel string, payload interface{}) error {
	return b.client.Publish(ctx, channel, payload)
}

func (b *ChannelBroker) Health() error {
	return b.client.Health()
}

func (b *ChannelBroker) Close() error {
	return nil
}

var _ brokers.Broker = (*ChannelBroker)(nil)

// ChannelConfig selects the pub/sub broker in a registry
type ChannelConfig struct{}

func (c *ChannelConfig) Validate() error { return nil }

func (c *ChannelConfig) GetType() string { return "redis_pubsub" }
