// Package storage defines the persistence contract used by the engine. The
// schema behind it belongs to the mapping/credential CRUD surface; the engine
// only reads mappings and credentials and writes events, reaction records and
// subscriptions.
package storage

import (
	"context"
	"time"

	"area-engine/internal/models"
)

// Storage is implemented by the sqlite and postgres adapters.
type Storage interface {
	Close() error
	Health() error

	// Events
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// ListPendingEvents returns received events, oldest first.
	ListPendingEvents(ctx context.Context, limit int) ([]*models.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error
	// ClaimEvent moves a received event to processing, reporting false when
	// it was not received.
	ClaimEvent(ctx context.Context, id string) (bool, error)

	// Mappings
	CreateMapping(ctx context.Context, mapping *models.Mapping) error
	SetMappingActive(ctx context.Context, id string, active bool) error
	ListActiveMappingsByActionType(ctx context.Context, actionType string) ([]*models.Mapping, error)
	// ListActiveMappingsForUser returns the user's active mappings whose
	// action type belongs to provider.
	ListActiveMappingsForUser(ctx context.Context, userID, provider string) ([]*models.Mapping, error)
	// ListActiveUserIDs returns the distinct owners of active mappings whose
	// action type belongs to provider.
	ListActiveUserIDs(ctx context.Context, provider string) ([]string, error)

	// Credentials
	SaveCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, userID, tokenType string) (*models.Credential, error)
	RevokeCredential(ctx context.Context, userID, tokenType, reason string, at time.Time) error

	// Subscriptions
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, provider string) ([]*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string, active bool) error

	// Reaction records
	CreateReactionRecord(ctx context.Context, record *models.ReactionRecord) error
	ListReactionRecords(ctx context.Context, eventID string) ([]*models.ReactionRecord, error)
}
