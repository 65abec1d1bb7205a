package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"area-engine/internal/brokers"
	"area-engine/internal/common/utils"
)

// BrokerPublisher sends outcomes to a broker as JSON, keyed by reaction type.
// Publish failures are retried with backoff before being reported.
type BrokerPublisher struct {
	broker brokers.Broker
	topic  string
	retry  utils.RetryConfig
}

// NewBrokerPublisher publishes to topic, or the broker's default when empty.
func NewBrokerPublisher(broker brokers.Broker, topic string) *BrokerPublisher {
	retry := utils.DefaultRetryConfig()
	retry.RetryableErrors = func(err error) bool {
		return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
	}
	return &BrokerPublisher{broker: broker, topic: topic, retry: retry}
}

func (p *BrokerPublisher) Publish(ctx context.Context, outcome *Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	msg := &brokers.Message{
		Topic:     p.topic,
		Key:       outcome.ReactionType,
		Headers:   map[string]string{"user_id": outcome.UserID, "event_id": outcome.EventID},
		Body:      body,
		Timestamp: outcome.ExecutedAt,
		MessageID: outcome.EventID + ":" + outcome.MappingID,
	}
	return utils.RetryWithBackoff(ctx, p.retry, func() error {
		return p.broker.Publish(ctx, msg)
	})
}
