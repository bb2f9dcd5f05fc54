// Package gcp publishes connection events to a Google Cloud Pub/Sub topic.
// Without a credentials file, Application Default Credentials are used, and
// PUBSUB_EMULATOR_HOST points the client at an emulator.
package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"melody-map/internal/brokers"
	"melody-map/internal/common/errors"
)

type Broker struct {
	config *Config
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewBroker connects and resolves the topic, creating it when configured to
func NewBroker(ctx context.Context, config *Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Pub/Sub client", err)
	}

	topic := client.Topic(config.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to check topic existence", err)
	}
	if !exists {
		if !config.CreateTopic {
			client.Close()
			return nil, errors.ConfigError(fmt.Sprintf("topic %s does not exist", config.TopicID))
		}
		topic, err = client.CreateTopic(ctx, config.TopicID)
		if err != nil {
			client.Close()
			return nil, errors.ConnectionError("failed to create topic "+config.TopicID, err)
		}
	}

	topic.PublishSettings.DelayThreshold = 10 * time.Millisecond
	topic.PublishSettings.CountThreshold = 10
	topic.EnableMessageOrdering = config.EnableMessageOrdering

	return &Broker{config: config, client: client, topic: topic}, nil
}

func (b *Broker) Name() string {
	return "pubsub"
}

// Publish waits for the server-assigned message ID or ctx
func (b *Broker) Publish(ctx context.Context, channel string, payload interface{}) error {
	msg, err := brokers.NewMessage(channel, payload)
	if err != nil {
		return err
	}

	psMsg := &pubsub.Message{
		Data:       msg.Body,
		Attributes: msg.Headers,
	}
	if b.config.EnableMessageOrdering && msg.Key != "" {
		psMsg.OrderingKey = msg.Key
	}

	if _, err := b.topic.Publish(ctx, psMsg).Get(ctx); err != nil {
		if psMsg.OrderingKey != "" {
			b.topic.ResumePublish(psMsg.OrderingKey)
		}
		return errors.ConnectionError("failed to publish to Pub/Sub", err)
	}
	return nil
}

func (b *Broker) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), brokers.HealthTimeout)
	defer cancel()

	exists, err := b.topic.Exists(ctx)
	if err != nil {
		return errors.ConnectionError("Pub/Sub is unreachable", err)
	}
	if !exists {
		return errors.ConnectionError("Pub/Sub topic "+b.config.TopicID+" no longer exists", nil)
	}
	return nil
}

// Close flushes pending messages and closes the client
func (b *Broker) Close() error {
	b.topic.Stop()
	return b.client.Close()
}

var _ brokers.Broker = (*Broker)(nil)
