// Package twitch describes the Twitch service. Its events are pushed by
// EventSub subscriptions owned by one user each, so no shared-event filter is
// needed.
package twitch

import (
	"area-engine/internal/credentials"
	"area-engine/internal/services"
)

const (
	ProviderID = "twitch"

	ActionNewFollower   = "twitch.new_follower"
	ActionStreamOnline  = "twitch.stream_online"
	ActionStreamOffline = "twitch.stream_offline"

	EventSource = "twitch-webhook"

	DefaultAPIBaseURL = "https://api.twitch.tv/helix"
	TokenURL          = "https://id.twitch.tv/oauth2/token"
)

// EventSub subscription types.
const (
	SubscriptionChannelFollow = "channel.follow"
	SubscriptionStreamOnline  = "stream.online"
	SubscriptionStreamOffline = "stream.offline"
)

// ActionType maps an EventSub subscription type to an action type, or "".
func ActionType(subscriptionType string) string {
	switch subscriptionType {
	case SubscriptionChannelFollow:
		return ActionNewFollower
	case SubscriptionStreamOnline:
		return ActionStreamOnline
	case SubscriptionStreamOffline:
		return ActionStreamOffline
	}
	return ""
}

// SubscriptionType is the inverse of ActionType.
func SubscriptionType(actionType string) string {
	switch actionType {
	case ActionNewFollower:
		return SubscriptionChannelFollow
	case ActionStreamOnline:
		return SubscriptionStreamOnline
	case ActionStreamOffline:
		return SubscriptionStreamOffline
	}
	return ""
}

// EventVersion returns the EventSub version used for a subscription type.
func EventVersion(subscriptionType string) string {
	if subscriptionType == SubscriptionChannelFollow {
		return "2"
	}
	return "1"
}

func Descriptor(resolver credentials.Resolver) services.Descriptor {
	userEvent := func(id, name, description, pattern string, tags ...string) services.ActionDescriptor {
		return services.ActionDescriptor{
			ID:          id,
			Name:        name,
			Description: description,
			ConfigSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"broadcaster": map[string]interface{}{"type": "string", "description": "Channel login, defaults to the user's own channel"},
				},
			},
			Metadata: services.Metadata{
				Category:       "Streaming",
				Tags:           append([]string{"twitch"}, tags...),
				RequiresAuth:   true,
				WebhookPattern: pattern,
			},
		}
	}

	return services.Descriptor{
		ID:          ProviderID,
		Name:        "Twitch",
		Description: "Twitch live streaming events",
		Version:     "1.0.0",
		Credentials: resolver,
		Actions: []services.ActionDescriptor{
			userEvent(ActionNewFollower, "New Follower", "Triggers when someone follows the channel", SubscriptionChannelFollow, "follow"),
			userEvent(ActionStreamOnline, "Stream Online", "Triggers when the channel goes live", SubscriptionStreamOnline, "stream", "live"),
			userEvent(ActionStreamOffline, "Stream Offline", "Triggers when the channel stops streaming", SubscriptionStreamOffline, "stream"),
		},
	}
}
