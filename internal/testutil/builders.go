package testutil

import (
	"time"

	"github.com/google/uuid"

	"area-engine/internal/models"
)

// MappingBuilder helps build test mappings
type MappingBuilder struct {
	mapping *models.Mapping
}

// NewMappingBuilder starts an active mapping owned by test-user-id.
func NewMappingBuilder() *MappingBuilder {
	return &MappingBuilder{
		mapping: &models.Mapping{
			ID:        "mapping-" + uuid.NewString(),
			CreatedBy: "test-user-id",
			Action:    models.TypedConfig{Type: "reddit.new_post_in_subreddit", Config: map[string]interface{}{}},
			Reaction:  models.TypedConfig{Type: "webhook.post", Config: map[string]interface{}{}},
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (b *MappingBuilder) WithID(id string) *MappingBuilder {
	b.mapping.ID = id
	return b
}

func (b *MappingBuilder) WithUser(userID string) *MappingBuilder {
	b.mapping.CreatedBy = userID
	return b
}

func (b *MappingBuilder) WithAction(actionType string, config map[string]interface{}) *MappingBuilder {
	b.mapping.Action = models.TypedConfig{Type: actionType, Config: config}
	return b
}

func (b *MappingBuilder) WithReaction(reactionType string, config map[string]interface{}) *MappingBuilder {
	b.mapping.Reaction = models.TypedConfig{Type: reactionType, Config: config}
	return b
}

func (b *MappingBuilder) Inactive() *MappingBuilder {
	b.mapping.IsActive = false
	return b
}

func (b *MappingBuilder) Build() *models.Mapping {
	return b.mapping
}

// EventBuilder helps build test events
type EventBuilder struct {
	event *models.Event
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: &models.Event{
			ID:         uuid.NewString(),
			ActionType: "reddit.new_post_in_subreddit",
			UserID:     "test-user-id",
			Payload:    map[string]interface{}{},
			Source:     "test",
			Status:     models.EventStatusReceived,
			CreatedAt:  time.Now().UTC(),
		},
	}
}

func (b *EventBuilder) WithID(id string) *EventBuilder {
	b.event.ID = id
	return b
}

func (b *EventBuilder) WithUser(userID string) *EventBuilder {
	b.event.UserID = userID
	return b
}

func (b *EventBuilder) WithActionType(actionType string) *EventBuilder {
	b.event.ActionType = actionType
	return b
}

func (b *EventBuilder) WithPayload(payload map[string]interface{}) *EventBuilder {
	b.event.Payload = payload
	return b
}

func (b *EventBuilder) WithSource(source string) *EventBuilder {
	b.event.Source = source
	return b
}

func (b *EventBuilder) Build() *models.Event {
	return b.event
}
