// Package rabbitmq publishes connection events to a RabbitMQ exchange.
// The event type is the routing key, so consumers can bind to
// "connection.*" or a single event type.
package rabbitmq

import (
	"context"
	"sync"

	"github.com/streadway/amqp"
	"melody-map/internal/brokers"
	"melody-map/internal/common/errors"
	"melody-map/internal/common/logging"
)

// Connection is the subset of *amqp.Connection the broker uses
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is the subset of *amqp.Channel the broker uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a connection
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dial connects with streadway/amqp
func Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type Broker struct {
	config *Config
	dial   Dialer
	logger logging.Logger

	mu   sync.Mutex
	conn Connection
}

// NewBroker connects and declares the durable exchange
func NewBroker(config *Config) (*Broker, error) {
	return NewBrokerWithDialer(config, Dial)
}

// NewBrokerWithDialer is NewBroker with an injected dialer
func NewBrokerWithDialer(config *Config, dial Dialer) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Broker{
		config: config,
		dial:   dial,
		logger: logging.GetGlobalLogger().WithFields(
			logging.Field{Key: "component", Value: "rabbitmq_broker"},
			logging.Field{Key: "exchange", Value: config.Exchange},
		),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) Name() string {
	return "rabbitmq"
}

// connectLocked returns the live connection, redialing if the old one closed
func (b *Broker) connectLocked() (Connection, error) {
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, err := b.dial(b.config.URL)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to RabbitMQ", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.ConnectionError("failed to open RabbitMQ channel", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(b.config.Exchange, b.config.ExchangeType, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.ConnectionError("failed to declare exchange "+b.config.Exchange, err)
	}

	if b.conn != nil {
		b.logger.Info("Reconnected to RabbitMQ")
	}
	b.conn = conn
	return conn, nil
}

// Publish sends a persistent JSON message. The AMQP client has no context
// support, so ctx is only checked before publishing.
func (b *Broker) Publish(ctx context.Context, channel string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := brokers.NewMessage(channel, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	conn, err := b.connectLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return errors.ConnectionError("failed to open RabbitMQ channel", err)
	}
	defer ch.Close()

	routingKey := msg.Type
	if routingKey == "" {
		routingKey = channel
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	err = ch.Publish(b.config.Exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		return errors.ConnectionError("failed to publish to RabbitMQ", err)
	}
	return nil
}

func (b *Broker) Health() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return errors.ConnectionError("RabbitMQ connection is closed", nil)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

var _ brokers.Broker = (*Broker)(nil)
