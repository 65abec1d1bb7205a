// Package circuitbreaker guards calls to provider APIs with sony/gobreaker.
// Only transport-level failures trip a breaker; a rejected token or a
// malformed request says nothing about the provider's health.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
)

// Config holds the settings of one breaker.
type Config struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxConcurrentRequests is the number of probes allowed while half-open.
	MaxConcurrentRequests int
}

func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

var (
	// OAuthConfig guards token endpoints.
	OAuthConfig = Config{MaxFailures: 5, Timeout: 60 * time.Second, MaxConcurrentRequests: 1}
	// ProviderConfig guards provider REST calls.
	ProviderConfig = Config{MaxFailures: 8, Timeout: 30 * time.Second, MaxConcurrentRequests: 2}
)

// Breaker wraps a gobreaker.CircuitBreaker.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// New creates a breaker. An invalid config falls back to ProviderConfig.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "breaker", Value: name},
			logging.Field{Key: "error", Value: err.Error()},
		)
		config = ProviderConfig
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: isSuccessful,
	}

	return &Breaker{name: name, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	switch errors.GetType(err) {
	case errors.ErrTypeAuth, errors.ErrTypeValidation, errors.ErrTypeNotFound, errors.ErrTypeConflict, errors.ErrTypeRateLimit:
		return true
	}
	return false
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.TransportError(fmt.Sprintf("circuit breaker '%s' is open", b.name), err).WithCode("circuit_open")
	}
	return err
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the gobreaker state name: closed, half-open or open.
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

// Manager hands out one breaker per name.
type Manager struct {
	mu       sync.Mutex
	config   Config
	logger   logging.Logger
	breakers map[string]*Breaker
}

func NewManager(config Config, logger logging.Logger) *Manager {
	return &Manager{config: config, logger: logger, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, m.config, m.logger)
	m.breakers[name] = b
	return b
}

// States reports every breaker's state, keyed by name.
func (m *Manager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]string, len(m.breakers))
	for name, b := range m.breakers {
		states[name] = b.State()
	}
	return states
}
