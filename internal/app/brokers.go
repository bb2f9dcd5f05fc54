package app

import (
	"context"
	"strconv"
	"time"

	"melody-map/internal/brokers"
	brokeraws "melody-map/internal/brokers/aws"
	brokergcp "melody-map/internal/brokers/gcp"
	brokerkafka "melody-map/internal/brokers/kafka"
	brokerrabbitmq "melody-map/internal/brokers/rabbitmq"
	brokerredis "melody-map/internal/brokers/redis"
	"melody-map/internal/common/logging"
	"melody-map/internal/config"
)

const brokerConnectTimeout = 15 * time.Second

// newBrokerRegistry registers a factory per EVENT_BROKERS name
func (app *App) newBrokerRegistry(ctx context.Context) *brokers.Registry {
	registry := brokers.NewRegistry()

	registry.Register(config.BrokerRedisPubSub, func(brokers.BrokerConfig) (brokers.Broker, error) {
		return brokerredis.NewChannelBroker(app.RedisClient), nil
	})
	registry.Register(config.BrokerRedisStream, func(cfg brokers.BrokerConfig) (brokers.Broker, error) {
		return brokerredis.NewBroker(cfg.(*brokerredis.Config), app.RedisClient.GetGoRedisClient())
	})
	registry.Register(config.BrokerRabbitMQ, func(cfg brokers.BrokerConfig) (brokers.Broker, error) {
		return brokerrabbitmq.NewBroker(cfg.(*brokerrabbitmq.Config))
	})
	registry.Register(config.BrokerKafka, func(cfg brokers.BrokerConfig) (brokers.Broker, error) {
		return brokerkafka.NewBroker(cfg.(*brokerkafka.Config))
	})
	awsFactory := func(cfg brokers.BrokerConfig) (brokers.Broker, error) {
		return brokeraws.NewBroker(ctx, cfg.(*brokeraws.Config))
	}
	registry.Register(config.BrokerSNS, awsFactory)
	registry.Register(config.BrokerSQS, awsFactory)
	registry.Register(config.BrokerPubSub, func(cfg brokers.BrokerConfig) (brokers.Broker, error) {
		return brokergcp.NewBroker(ctx, cfg.(*brokergcp.Config))
	})

	return registry
}

// brokerConfig maps one EVENT_BROKERS entry to its settings
func (app *App) brokerConfig(name string) brokers.BrokerConfig {
	c := app.Config
	switch name {
	case config.BrokerRedisPubSub:
		return &brokerredis.ChannelConfig{}
	case config.BrokerRedisStream:
		maxLen, _ := strconv.ParseInt(c.RedisStreamMaxLen, 10, 64)
		return &brokerredis.Config{Stream: c.RedisStream, MaxLen: maxLen}
	case config.BrokerRabbitMQ:
		return &brokerrabbitmq.Config{URL: c.RabbitMQURL, Exchange: c.RabbitMQExchange}
	case config.BrokerKafka:
		return &brokerkafka.Config{
			Brokers:          c.KafkaBrokerList(),
			Topic:            c.KafkaTopic,
			SecurityProtocol: c.KafkaSecurityProtocol,
			SASLMechanism:    c.KafkaSASLMechanism,
			SASLUsername:     c.KafkaSASLUsername,
			SASLPassword:     c.KafkaSASLPassword,
		}
	case config.BrokerSNS, config.BrokerSQS:
		cfg := &brokeraws.Config{
			Region:          c.AWSRegion,
			AccessKeyID:     c.AWSAccessKeyID,
			SecretAccessKey: c.AWSSecretAccessKey,
			EndpointURL:     c.AWSEndpointURL,
		}
		if name == config.BrokerSNS {
			cfg.TopicArn = c.AWSSNSTopicARN
		} else {
			cfg.QueueURL = c.AWSSQSQueueURL
		}
		return cfg
	case config.BrokerPubSub:
		return &brokergcp.Config{
			ProjectID:             c.GCPProjectID,
			TopicID:               c.GCPPubSubTopic,
			CredentialsPath:       c.GCPCredentialsFile,
			CreateTopic:           c.GCPCreateTopic,
			EnableMessageOrdering: c.GCPMessageOrdering,
		}
	}
	return nil
}

// initializeBrokers builds the event fan-out. Events are best effort, so a
// broker that fails to start is logged and skipped.
func (app *App) initializeBrokers() {
	ctx, cancel := context.WithTimeout(context.Background(), brokerConnectTimeout)
	defer cancel()

	registry := app.newBrokerRegistry(ctx)

	var started []brokers.Broker
	for _, name := range app.Config.Brokers() {
		if (name == config.BrokerRedisPubSub || name == config.BrokerRedisStream) && app.RedisClient == nil {
			app.Logger.Warn("Event broker skipped, Redis is not available", logging.Field{Key: "broker", Value: name})
			continue
		}

		cfg := app.brokerConfig(name)
		if cfg == nil {
			continue
		}
		b, err := registry.Create(cfg)
		if err != nil {
			app.Logger.Warn("Event broker failed to start",
				logging.Field{Key: "broker", Value: name},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		started = append(started, b)
	}

	if len(started) == 0 {
		app.Logger.Info("Connection events: Disabled")
		return
	}

	app.Events = brokers.NewFanout(started...)
	app.Logger.Info("Connection events: Enabled", logging.Field{Key: "brokers", Value: app.Events.Name()})
}
