// Package models holds the records that flow between ingestion, matching and
// dispatch.
package models

import (
	"strings"
	"time"
)

// EventStatus tracks an event through dispatch.
type EventStatus string

const (
	EventStatusReceived   EventStatus = "received"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// Event is a normalized occurrence of an action. It is immutable once stored,
// apart from its status.
type Event struct {
	ID          string                 `json:"id"`
	ActionType  string                 `json:"action_type"`
	UserID      string                 `json:"user_id"`
	Payload     map[string]interface{} `json:"payload"`
	Source      string                 `json:"source"`
	Status      EventStatus            `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
}

// TypedConfig is the {type, config} pair on each side of a mapping.
type TypedConfig struct {
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// Mapping binds one action to one reaction for a user.
type Mapping struct {
	ID        string      `json:"id"`
	CreatedBy string      `json:"created_by"`
	Name      string      `json:"name,omitempty"`
	Action    TypedConfig `json:"action"`
	Reaction  TypedConfig `json:"reaction"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
}

// ConfigString returns a trimmed string value from the action config.
func (m *Mapping) ConfigString(key string) string {
	return stringValue(m.Action.Config, key)
}

// ReactionConfigString returns a trimmed string value from the reaction config.
func (m *Mapping) ReactionConfigString(key string) string {
	return stringValue(m.Reaction.Config, key)
}

func stringValue(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	s, _ := config[key].(string)
	return strings.TrimSpace(s)
}

// ReactionStatus is the outcome of one reaction execution.
type ReactionStatus string

const (
	ReactionStatusSuccess ReactionStatus = "success"
	ReactionStatusFailed  ReactionStatus = "failed"
)

// ReactionRecord stores what happened when a mapping's reaction ran for an event.
type ReactionRecord struct {
	ID           string                 `json:"id"`
	EventID      string                 `json:"event_id"`
	MappingID    string                 `json:"mapping_id"`
	ReactionType string                 `json:"reaction_type"`
	Status       ReactionStatus         `json:"status"`
	Output       map[string]interface{} `json:"output,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ExecutedAt   time.Time              `json:"executed_at"`
}
