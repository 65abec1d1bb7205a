// Package dispatch runs the reactions of the mappings an event matches and
// drains the queue of received events on a schedule.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"area-engine/internal/common/cache"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/executors"
	"area-engine/internal/models"
	"area-engine/internal/services"
)

// Repository is the storage the dispatcher reads and writes.
type Repository interface {
	ListActiveMappingsByActionType(ctx context.Context, actionType string) ([]*models.Mapping, error)
	UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error
	CreateReactionRecord(ctx context.Context, record *models.ReactionRecord) error
	ListReactionRecords(ctx context.Context, eventID string) ([]*models.ReactionRecord, error)
	ListPendingEvents(ctx context.Context, limit int) ([]*models.Event, error)
	ClaimEvent(ctx context.Context, id string) (bool, error)
}

// Matcher selects the mappings an event satisfies.
type Matcher interface {
	Match(ctx context.Context, event *models.Event, mappings []*models.Mapping) []*models.Mapping
}

// ReactionValidator checks reaction configs. *services.Registry implements it.
type ReactionValidator interface {
	ValidateReactionConfig(reactionType string, config map[string]interface{}) error
}

// CredentialGetter resolves a user's provider credential.
type CredentialGetter interface {
	Get(ctx context.Context, userID, provider string) (*models.Credential, error)
}

// Outcome is published for every executed reaction.
type Outcome struct {
	EventID      string                 `json:"event_id"`
	MappingID    string                 `json:"mapping_id"`
	UserID       string                 `json:"user_id"`
	ActionType   string                 `json:"action_type"`
	ReactionType string                 `json:"reaction_type"`
	Success      bool                   `json:"success"`
	Output       map[string]interface{} `json:"output,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ExecutedAt   time.Time              `json:"executed_at"`
}

// Publisher forwards outcomes to an event broker.
type Publisher interface {
	Publish(ctx context.Context, outcome *Outcome) error
}

// Report summarizes one Dispatch call.
type Report struct {
	EventID   string
	Matched   int
	Succeeded int
	Failed    int
	// Skipped counts mappings already dispatched for this event.
	Skipped int
	Status  models.EventStatus
}

type Config struct {
	// ClaimTTL is how long a (event, mapping) claim blocks redelivery.
	ClaimTTL time.Duration
	// Settings and Env are handed to executors per reaction provider.
	Settings map[string]map[string]interface{}
	Env      map[string]string
}

// Dispatcher executes reactions for events.
type Dispatcher struct {
	config    Config
	repo      Repository
	matcher   Matcher
	executors *executors.Registry
	validator ReactionValidator
	creds     CredentialGetter
	claims    cache.Cache
	publisher Publisher
	logger    logging.Logger
	nowFn     func() time.Time
}

// New creates a Dispatcher. validator, creds and publisher may be nil.
func New(config Config, repo Repository, matcher Matcher, registry *executors.Registry, validator ReactionValidator,
	creds CredentialGetter, claims cache.Cache, publisher Publisher, logger logging.Logger) *Dispatcher {
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = 24 * time.Hour
	}
	if claims == nil {
		claims = cache.NewLocalCache(config.ClaimTTL, 10*time.Minute)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{
		config:    config,
		repo:      repo,
		matcher:   matcher,
		executors: registry,
		validator: validator,
		creds:     creds,
		claims:    claims,
		publisher: publisher,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "dispatcher"}),
		nowFn:     time.Now,
	}
}

// Dispatch matches event against its owner's mappings, runs each matched
// reaction once and stores the final event status: completed when every
// reaction succeeded or nothing matched, failed otherwise. When some reactions
// were claimed by another dispatch of the same event, the status is derived
// from the stored reaction records, and left alone until all of them exist.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event) (*Report, error) {
	report := &Report{EventID: event.ID}
	log := d.logger.WithFields(
		logging.Field{Key: "event_id", Value: event.ID},
		logging.Field{Key: "action_type", Value: event.ActionType},
	)

	mappings, err := d.repo.ListActiveMappingsByActionType(ctx, event.ActionType)
	if err != nil {
		return nil, err
	}
	if event.UserID != "" {
		owned := mappings[:0:0]
		for _, m := range mappings {
			if m.CreatedBy == event.UserID {
				owned = append(owned, m)
			}
		}
		mappings = owned
	}

	matched := d.matcher.Match(ctx, event, mappings)
	report.Matched = len(matched)

	for _, mapping := range matched {
		claimed, err := d.claims.SetNX(ctx, claimKey(event.ID, mapping.ID), "1", d.config.ClaimTTL)
		if err != nil {
			log.Warn("Failed to claim dispatch, running anyway", logging.Field{Key: "error", Value: err.Error()})
			claimed = true
		}
		if !claimed {
			report.Skipped++
			continue
		}

		result := d.execute(ctx, event, mapping)
		if result.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		d.record(ctx, log, event, mapping, result)
	}

	report.Status = models.EventStatusCompleted
	if report.Failed > 0 {
		report.Status = models.EventStatusFailed
	}
	if report.Skipped > 0 {
		status, settled, err := d.settledStatus(ctx, event.ID, matched)
		if err != nil {
			return report, err
		}
		if !settled {
			log.Debug("Reactions still running elsewhere, event status unchanged",
				logging.Field{Key: "skipped", Value: report.Skipped},
			)
			report.Status = event.Status
			return report, nil
		}
		report.Status = status
	}
	if err := d.repo.UpdateEventStatus(ctx, event.ID, report.Status); err != nil {
		return report, err
	}
	event.Status = report.Status

	log.Info("Event dispatched",
		logging.Field{Key: "matched", Value: report.Matched},
		logging.Field{Key: "succeeded", Value: report.Succeeded},
		logging.Field{Key: "failed", Value: report.Failed},
		logging.Field{Key: "skipped", Value: report.Skipped},
	)
	return report, nil
}

// settledStatus reads the stored outcome of every matched mapping. settled is
// false while any of them has no record yet.
func (d *Dispatcher) settledStatus(ctx context.Context, eventID string, matched []*models.Mapping) (models.EventStatus, bool, error) {
	records, err := d.repo.ListReactionRecords(ctx, eventID)
	if err != nil {
		return "", false, err
	}
	outcomes := make(map[string]models.ReactionStatus, len(records))
	for _, rec := range records {
		if outcomes[rec.MappingID] != models.ReactionStatusFailed {
			outcomes[rec.MappingID] = rec.Status
		}
	}

	status := models.EventStatusCompleted
	for _, m := range matched {
		outcome, ok := outcomes[m.ID]
		if !ok {
			return "", false, nil
		}
		if outcome == models.ReactionStatusFailed {
			status = models.EventStatusFailed
		}
	}
	return status, true, nil
}

func (d *Dispatcher) execute(ctx context.Context, event *models.Event, mapping *models.Mapping) executors.Result {
	reactionType := mapping.Reaction.Type
	if d.validator != nil {
		if err := d.validator.ValidateReactionConfig(reactionType, mapping.Reaction.Config); err != nil {
			return executors.Failed(err)
		}
	}

	provider := services.ProviderOf(reactionType)
	ec := &executors.ExecutionContext{
		Reaction: mapping.Reaction,
		Event:    event,
		Mapping:  mapping,
		ServiceConfig: executors.ServiceConfig{
			Credentials: d.credential(ctx, mapping.CreatedBy, provider),
			Settings:    d.config.Settings[provider],
			Env:         d.config.Env,
		},
	}
	return d.executors.ExecuteReaction(ctx, reactionType, ec)
}

// credential returns nil when the user has none; executors that need one
// report it.
func (d *Dispatcher) credential(ctx context.Context, userID, provider string) *models.Credential {
	if d.creds == nil || provider == "" {
		return nil
	}
	cred, err := d.creds.Get(ctx, userID, provider)
	if err != nil {
		if !errors.IsType(err, errors.ErrTypeNotFound) {
			d.logger.Warn("Failed to resolve reaction credential",
				logging.Field{Key: "user_id", Value: userID},
				logging.Field{Key: "provider", Value: provider},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		return nil
	}
	return cred
}

func (d *Dispatcher) record(ctx context.Context, log logging.Logger, event *models.Event, mapping *models.Mapping, result executors.Result) {
	now := d.nowFn().UTC()
	rec := &models.ReactionRecord{
		ID:           uuid.NewString(),
		EventID:      event.ID,
		MappingID:    mapping.ID,
		ReactionType: mapping.Reaction.Type,
		Status:       models.ReactionStatusSuccess,
		Output:       result.Output,
		ExecutedAt:   now,
	}
	if !result.Success {
		rec.Status = models.ReactionStatusFailed
		rec.Error = result.Error
		log.Warn("Reaction failed",
			logging.Field{Key: "mapping_id", Value: mapping.ID},
			logging.Field{Key: "reaction_type", Value: mapping.Reaction.Type},
			logging.Field{Key: "error", Value: result.Error},
		)
	}
	if err := d.repo.CreateReactionRecord(ctx, rec); err != nil {
		log.Error("Failed to store reaction record", err, logging.Field{Key: "mapping_id", Value: mapping.ID})
	}

	if d.publisher == nil {
		return
	}
	outcome := &Outcome{
		EventID:      event.ID,
		MappingID:    mapping.ID,
		UserID:       mapping.CreatedBy,
		ActionType:   event.ActionType,
		ReactionType: mapping.Reaction.Type,
		Success:      result.Success,
		Output:       result.Output,
		Error:        result.Error,
		ExecutedAt:   now,
	}
	if err := d.publisher.Publish(ctx, outcome); err != nil {
		log.Warn("Failed to publish reaction outcome", logging.Field{Key: "error", Value: err.Error()})
	}
}

func claimKey(eventID, mappingID string) string {
	return fmt.Sprintf("dispatch:%s:%s", eventID, mappingID)
}
