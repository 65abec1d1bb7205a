package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"area-engine/internal/common/logging"
	"area-engine/internal/locks"
	"area-engine/internal/models"
)

var ErrServiceAlreadyRunning = stderrors.New("execution service is already running")

const lockKey = "execution-service"

type ServiceConfig struct {
	// Schedule is a cron spec, "@every 5s" by default.
	Schedule  string
	BatchSize int
	// LockTTL bounds how long one batch may hold the lock.
	LockTTL time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Schedule:  "@every 5s",
		BatchSize: 10,
		LockTTL:   time.Minute,
	}
}

// Service drains received events through a Dispatcher on a cron schedule.
type Service struct {
	config     ServiceConfig
	schedule   cron.Schedule
	dispatcher *Dispatcher
	repo       Repository
	locker     locks.Locker
	logger     logging.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewService creates a Service. A nil locker uses an in-process lock.
func NewService(config ServiceConfig, dispatcher *Dispatcher, repo Repository, locker locks.Locker, logger logging.Logger) (*Service, error) {
	d := DefaultServiceConfig()
	if config.Schedule == "" {
		config.Schedule = d.Schedule
	}
	if config.BatchSize <= 0 {
		config.BatchSize = d.BatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = d.LockTTL
	}
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid execution schedule %q: %w", config.Schedule, err)
	}
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		config:     config,
		schedule:   schedule,
		dispatcher: dispatcher,
		repo:       repo,
		locker:     locker,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "execution_service"}),
	}, nil
}

// Start schedules batches until Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrServiceAlreadyRunning
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Execution batch failed", err)
		}
	}))
	c.Start()
	s.cron = c

	s.logger.Info("Execution service started",
		logging.Field{Key: "schedule", Value: s.config.Schedule},
		logging.Field{Key: "batch_size", Value: s.config.BatchSize},
	)
	return nil
}

// Stop halts scheduling and waits for a running batch or ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info("Execution service stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce dispatches up to BatchSize received events, oldest first, and
// returns how many were processed. It does nothing when another replica
// holds the lock.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	unlock, acquired, err := s.locker.TryLock(ctx, lockKey, s.config.LockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			s.logger.Warn("Failed to release execution lock", logging.Err(err))
		}
	}()

	events, err := s.repo.ListPendingEvents(ctx, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending events: %w", err)
	}

	processed := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		claimed, err := s.repo.ClaimEvent(ctx, event.ID)
		if err != nil {
			s.logger.Error("Failed to mark event processing", err, logging.Field{Key: "event_id", Value: event.ID})
			continue
		}
		if !claimed {
			// settled by the webhook dispatch since it was listed
			continue
		}
		event.Status = models.EventStatusProcessing

		if _, err := s.dispatcher.Dispatch(ctx, event); err != nil {
			s.logger.Error("Failed to dispatch event", err, logging.Field{Key: "event_id", Value: event.ID})
			if err := s.repo.UpdateEventStatus(ctx, event.ID, models.EventStatusFailed); err != nil {
				s.logger.Error("Failed to mark event failed", err, logging.Field{Key: "event_id", Value: event.ID})
			}
			continue
		}
		processed++
	}

	if processed > 0 {
		s.logger.Debug("Execution batch done", logging.Int("processed", processed))
	}
	return processed, nil
}
