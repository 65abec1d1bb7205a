// Package services holds the registry providers plug into. A provider
// registers one Descriptor at startup listing the actions it can emit and the
// reactions it can perform; everything downstream (poller, webhook intake,
// matcher, dispatcher) finds provider behavior through it.
package services

import (
	"context"
	"fmt"
	"strings"

	"area-engine/internal/credentials"
	"area-engine/internal/models"
)

// SharedEventFilter decides whether a shared upstream event concerns a
// mapping owned by userID.
type SharedEventFilter func(ctx context.Context, event *models.Event, mapping *models.Mapping, userID string) (bool, error)

type Metadata struct {
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	RequiresAuth   bool     `json:"requires_auth"`
	WebhookPattern string   `json:"webhook_pattern,omitempty"`
	// SharedEvents marks actions whose upstream events are not user-scoped
	// and must be fanned out to every subscribed mapping.
	SharedEvents      bool              `json:"shared_events"`
	SharedEventFilter SharedEventFilter `json:"-"`
}

type ActionDescriptor struct {
	ID           string                 `json:"id" validate:"required"`
	Name         string                 `json:"name" validate:"required"`
	Description  string                 `json:"description"`
	ConfigSchema map[string]interface{} `json:"config_schema,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	Metadata     Metadata               `json:"metadata"`
}

type ReactionDescriptor struct {
	ID           string                 `json:"id" validate:"required"`
	Name         string                 `json:"name" validate:"required"`
	Description  string                 `json:"description"`
	ConfigSchema map[string]interface{} `json:"config_schema,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	Metadata     Metadata               `json:"metadata"`
}

// Descriptor is everything the engine knows about one provider.
type Descriptor struct {
	ID          string               `json:"id" validate:"required"`
	Name        string               `json:"name" validate:"required"`
	Description string               `json:"description"`
	Version     string               `json:"version"`
	Actions     []ActionDescriptor   `json:"actions" validate:"dive"`
	Reactions   []ReactionDescriptor `json:"reactions" validate:"dive"`
	// Credentials resolves the provider credential for a user. Optional.
	Credentials credentials.Resolver `json:"-"`
}

// ProviderOf returns the provider id of a fully-qualified action or reaction
// type: the text before the first dot.
func ProviderOf(typ string) string {
	provider, _, _ := strings.Cut(typ, ".")
	return provider
}

// DuplicateProviderError is returned when a provider id is registered twice.
type DuplicateProviderError struct {
	ID string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("provider %q is already registered", e.ID)
}

// InvalidDescriptorError is returned for a malformed descriptor.
type InvalidDescriptorError struct {
	ID     string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid service descriptor: %s", e.Reason)
	}
	return fmt.Sprintf("invalid service descriptor %q: %s", e.ID, e.Reason)
}
