package rabbitmq

import (
	"fmt"
	"net/url"

	"melody-map/internal/common/validation"
)

const DefaultExchange = "melody-map.events"

type Config struct {
	URL          string `json:"url" validate:"required,url"`
	Exchange     string `json:"exchange" validate:"required,max=255"`
	ExchangeType string `json:"exchange_type" validate:"oneof=direct fanout topic"`
}

func (c *Config) Validate() error {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.ExchangeType == "" {
		c.ExchangeType = "topic"
	}

	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid RabbitMQ URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return fmt.Errorf("RabbitMQ URL must use amqp:// or amqps:// scheme")
	}
	return nil
}

func (c *Config) GetType() string {
	return "rabbitmq"
}
