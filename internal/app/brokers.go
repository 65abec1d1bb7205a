package app

import (
	"fmt"

	"area-engine/internal/brokers/rabbitmq"
	redisbroker "area-engine/internal/brokers/redis"
	"area-engine/internal/common/logging"
)

// initializeBroker creates the outcome publisher selected by EVENT_BROKER.
func (app *App) initializeBroker() error {
	switch app.Config.EventBroker {
	case "", "none":
		return nil
	case "redis":
		b, err := redisbroker.NewBroker(app.RedisClient, redisbroker.Config{Stream: app.Config.EventStream}, app.Logger)
		if err != nil {
			return err
		}
		app.Broker = b
	case "rabbitmq":
		b, err := rabbitmq.NewBroker(&rabbitmq.Config{URL: app.Config.RabbitMQURL, Queue: app.Config.EventStream}, app.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		app.Broker = b
	default:
		return fmt.Errorf("unsupported event broker: %s", app.Config.EventBroker)
	}

	app.Logger.Info("Event broker enabled",
		logging.String("broker", app.Broker.Name()),
		logging.String("stream", app.Config.EventStream),
	)
	return nil
}
