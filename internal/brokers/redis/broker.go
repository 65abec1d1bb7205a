// Package redis publishes messages to a Redis stream with XADD.
package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"area-engine/internal/brokers"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/redis"
)

const DefaultStream = "area-events"

type Config struct {
	Stream string
	// MaxLen trims the stream approximately. 0 means no limit.
	MaxLen int64
}

type Broker struct {
	client *redis.Client
	config Config
	logger logging.Logger
}

// NewBroker publishes through an existing connection. Close does not close it.
func NewBroker(client *redis.Client, config Config, logger logging.Logger) (*Broker, error) {
	if client == nil {
		return nil, errors.ConfigError("redis broker requires a redis client")
	}
	if config.Stream == "" {
		config.Stream = DefaultStream
	}
	if config.MaxLen < 0 {
		config.MaxLen = 0
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Broker{
		client: client,
		config: config,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "redis_broker"}),
	}, nil
}

func (b *Broker) Name() string {
	return "redis"
}

// Publish appends message to its stream.
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	stream := message.Topic
	if stream == "" {
		stream = b.config.Stream
	}
	ts := message.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{
		"body":       string(message.Body),
		"timestamp":  strconv.FormatInt(ts.UnixNano(), 10),
		"message_id": message.MessageID,
	}
	if message.Key != "" {
		fields["key"] = message.Key
	}
	for k, v := range message.Headers {
		fields["header_"+k] = v
	}

	args := &goredis.XAddArgs{Stream: stream, ID: "*", Values: fields}
	if b.config.MaxLen > 0 {
		args.MaxLen = b.config.MaxLen
		args.Approx = true
	}

	id, err := b.client.Redis().XAdd(ctx, args).Result()
	if err != nil {
		return errors.InternalError("failed to publish message to Redis stream", err)
	}

	b.logger.Debug("Message published to Redis stream",
		logging.Field{Key: "stream", Value: stream},
		logging.Field{Key: "id", Value: id},
	)
	return nil
}

func (b *Broker) Health() error {
	return b.client.Health()
}

func (b *Broker) Close() error {
	return nil
}

var _ brokers.Broker = (*Broker)(nil)
