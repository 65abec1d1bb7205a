// Package brokers publishes reaction outcomes to an external event broker so
// other systems can follow what the engine executed.
package brokers

import (
	"context"
	"time"
)

// Broker is implemented by the redis stream and rabbitmq adapters.
type Broker interface {
	Name() string
	Publish(ctx context.Context, message *Message) error
	Health() error
	Close() error
}

type Message struct {
	// Topic is the stream or queue name. Empty uses the broker default.
	Topic     string
	Key       string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
	MessageID string
}
