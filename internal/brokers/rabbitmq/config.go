package rabbitmq

import (
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	URL      string `json:"url" validate:"required,url"`
	PoolSize int    `json:"pool_size" validate:"min=1,max=100"`
	// Queue receives messages without a topic.
	Queue    string `json:"queue" validate:"required"`
	Exchange string `json:"exchange"`
}

// Validate applies defaults and checks the config.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.Queue == "" {
		c.Queue = "area-events"
	}
	return validate.Struct(c)
}

// ConnectionString is the URL without credentials, for logs.
func (c *Config) ConnectionString() string {
	if parsed, err := url.Parse(c.URL); err == nil {
		return fmt.Sprintf("amqp://%s", parsed.Host)
	}
	return "amqp://***"
}
