// Package rabbitmq publishes messages to a durable RabbitMQ queue, optionally
// routed through a direct exchange.
package rabbitmq

import (
	"context"
	"time"

	"github.com/streadway/amqp"

	"area-engine/internal/brokers"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
)

type Broker struct {
	config *Config
	pool   ConnectionPoolInterface
	logger logging.Logger
}

// NewBroker validates config and dials the pool.
func NewBroker(config *Config, logger logging.Logger) (*Broker, error) {
	if config == nil {
		return nil, errors.ConfigError("rabbitmq config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError("invalid rabbitmq config: " + err.Error())
	}
	pool, err := NewConnectionPool(config.URL, config.PoolSize)
	if err != nil {
		return nil, errors.ConnectionError("failed to create RabbitMQ connection pool", err)
	}
	return NewBrokerWithPool(config, pool, logger)
}

// NewBrokerWithPool creates a broker on an existing pool.
func NewBrokerWithPool(config *Config, pool ConnectionPoolInterface, logger logging.Logger) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError("invalid rabbitmq config: " + err.Error())
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Broker{
		config: config,
		pool:   pool,
		logger: logger.WithFields(
			logging.Field{Key: "component", Value: "rabbitmq_broker"},
			logging.Field{Key: "url", Value: config.ConnectionString()},
		),
	}, nil
}

func (b *Broker) Name() string {
	return "rabbitmq"
}

// Publish declares the target queue and publishes a persistent JSON message.
// With an exchange configured, the queue is bound under the message key.
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := b.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}
	defer client.Close()

	queue := message.Topic
	if queue == "" {
		queue = b.config.Queue
	}
	if _, err := client.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.InternalError("failed to declare queue "+queue, err)
	}

	exchange := b.config.Exchange
	routingKey := queue
	if exchange != "" {
		routingKey = message.Key
		if err := client.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return errors.InternalError("failed to declare exchange "+exchange, err)
		}
		if err := client.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
			b.logger.Warn("Failed to bind queue to exchange",
				logging.Field{Key: "queue", Value: queue},
				logging.Field{Key: "routing_key", Value: routingKey},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	ts := message.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	headers := amqp.Table{}
	for k, v := range message.Headers {
		headers[k] = v
	}

	err = client.Publish(exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    message.MessageID,
		Headers:      headers,
		Body:         message.Body,
		Timestamp:    ts,
	})
	if err != nil {
		return errors.InternalError("failed to publish message to RabbitMQ", err)
	}
	return nil
}

// Health opens and closes a channel.
func (b *Broker) Health() error {
	client, err := b.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client for health check", err)
	}
	client.Close()
	return nil
}

func (b *Broker) Close() error {
	b.pool.Close()
	return nil
}

var _ brokers.Broker = (*Broker)(nil)
