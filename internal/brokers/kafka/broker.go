// Package kafka produces connection events to a Kafka topic, keyed by user
// so a user's events stay on one partition.
package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"melody-map/internal/brokers"
	"melody-map/internal/common/errors"
	"melody-map/internal/common/logging"
)

// Producer is the subset of *kafka.Producer the broker uses
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Flush(timeoutMs int) int
	Close()
}

type Broker struct {
	config   *Config
	producer Producer
	logger   logging.Logger
}

func configMap(config *Config) *kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers":   strings.Join(config.Brokers, ","),
		"client.id":           config.ClientID,
		"acks":                "all",
		"enable.idempotence":  true,
		"delivery.timeout.ms": int(config.Timeout.Milliseconds()),
	}
	if config.SecurityProtocol != "PLAINTEXT" {
		m["security.protocol"] = config.SecurityProtocol
	}
	if strings.HasPrefix(config.SecurityProtocol, "SASL_") {
		m["sasl.mechanism"] = config.SASLMechanism
		m["sasl.username"] = config.SASLUsername
		m["sasl.password"] = config.SASLPassword
	}
	return &m
}

// NewBroker creates an idempotent producer. librdkafka connects lazily, so an
// unreachable cluster surfaces on the first publish or health check.
func NewBroker(config *Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Kafka config: %w", err)
	}

	producer, err := kafka.NewProducer(configMap(config))
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}
	return NewBrokerWithProducer(config, producer)
}

// NewBrokerWithProducer wraps an existing producer
func NewBrokerWithProducer(config *Config, producer Producer) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Kafka config: %w", err)
	}

	b := &Broker{
		config:   config,
		producer: producer,
		logger: logging.GetGlobalLogger().WithFields(
			logging.Field{Key: "component", Value: "kafka_broker"},
			logging.Field{Key: "topic", Value: config.Topic},
		),
	}

	if events := producer.Events(); events != nil {
		go b.logProducerErrors(events)
	}
	return b, nil
}

// logProducerErrors drains client-level events so librdkafka errors are visible
func (b *Broker) logProducerErrors(events chan kafka.Event) {
	for e := range events {
		if kerr, ok := e.(kafka.Error); ok {
			b.logger.Warn("Kafka producer error",
				logging.Field{Key: "code", Value: kerr.Code().String()},
				logging.Field{Key: "error", Value: kerr.Error()},
			)
		}
	}
}

func (b *Broker) Name() string {
	return "kafka"
}

// Publish produces one message and waits for its delivery report or ctx
func (b *Broker) Publish(ctx context.Context, channel string, payload interface{}) error {
	msg, err := brokers.NewMessage(channel, payload)
	if err != nil {
		return err
	}

	topic := b.config.Topic
	kafkaMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          msg.Body,
		Timestamp:      msg.Timestamp,
	}
	if msg.Key != "" {
		kafkaMsg.Key = []byte(msg.Key)
	}
	for k, v := range msg.Headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	delivery := make(chan kafka.Event, 1)
	if err := b.producer.Produce(kafkaMsg, delivery); err != nil {
		return errors.ConnectionError("failed to produce Kafka message", err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected Kafka delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return errors.ConnectionError("Kafka delivery failed", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) Health() error {
	topic := b.config.Topic
	metadata, err := b.producer.GetMetadata(&topic, false, int(brokers.HealthTimeout.Milliseconds()))
	if err != nil {
		return errors.ConnectionError("failed to get Kafka metadata", err)
	}
	if len(metadata.Brokers) == 0 {
		return errors.ConnectionError("no Kafka brokers available", nil)
	}
	return nil
}

// Close flushes outstanding messages before closing the producer
func (b *Broker) Close() error {
	if remaining := b.producer.Flush(int(b.config.Timeout.Milliseconds())); remaining > 0 {
		b.logger.Warn("Kafka producer closed with undelivered messages",
			logging.Field{Key: "remaining", Value: remaining})
	}
	b.producer.Close()
	return nil
}

var _ brokers.Broker = (*Broker)(nil)
