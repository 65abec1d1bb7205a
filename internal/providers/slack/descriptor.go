package slack

import (
	"area-engine/internal/credentials"
	"area-engine/internal/services"
)

// Descriptor describes the Slack service. channels supplies the shared event
// filter and may be nil, in which case every mapping receives every event.
func Descriptor(resolver credentials.Resolver, channels *ChannelResolver) services.Descriptor {
	var filter services.SharedEventFilter
	if channels != nil {
		filter = channels.Filter
	}

	channelProp := map[string]interface{}{"type": "string", "description": "Channel name (#general) or id"}

	return services.Descriptor{
		ID:          ProviderID,
		Name:        "Slack",
		Description: "Slack workspace messaging",
		Version:     "1.0.0",
		Credentials: resolver,
		Actions: []services.ActionDescriptor{
			{
				ID:          ActionNewMessage,
				Name:        "New Message in Channel",
				Description: "Triggers when a new message is posted in a specific channel",
				ConfigSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"channel": channelProp},
				},
				InputSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"type", "channel", "user", "text", "ts"},
					"properties": map[string]interface{}{
						"type":         map[string]interface{}{"type": "string"},
						"channel":      map[string]interface{}{"type": "string"},
						"user":         map[string]interface{}{"type": "string"},
						"text":         map[string]interface{}{"type": "string"},
						"ts":           map[string]interface{}{"type": "string"},
						"channel_type": map[string]interface{}{"type": "string"},
						"team":         map[string]interface{}{"type": "string"},
					},
				},
				Metadata: services.Metadata{
					Category:          "Slack",
					Tags:              []string{"message", "channel", "communication"},
					RequiresAuth:      true,
					WebhookPattern:    "message.channels",
					SharedEvents:      true,
					SharedEventFilter: filter,
				},
			},
			{
				ID:          ActionReactionAdded,
				Name:        "Reaction Added to Message",
				Description: "Triggers when someone adds an emoji reaction to a message",
				ConfigSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"channel": channelProp,
						"emoji":   map[string]interface{}{"type": "string"},
					},
				},
				Metadata: services.Metadata{
					Category:          "Slack",
					Tags:              []string{"reaction", "emoji", "interaction"},
					RequiresAuth:      true,
					WebhookPattern:    "reaction_added",
					SharedEvents:      true,
					SharedEventFilter: filter,
				},
			},
		},
		Reactions: []services.ReactionDescriptor{
			{
				ID:          ReactionSendMessage,
				Name:        "Send Message to Channel",
				Description: "Send a custom message to a specific Slack channel",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"channel", "message"},
					"properties": map[string]interface{}{
						"channel": channelProp,
						"message": map[string]interface{}{"type": "string", "minLength": 1},
					},
				},
				OutputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"channel":   map[string]interface{}{"type": "string"},
						"messageId": map[string]interface{}{"type": "string"},
						"timestamp": map[string]interface{}{"type": "string"},
					},
				},
				Metadata: services.Metadata{Category: "Communication", Tags: []string{"message", "notification"}, RequiresAuth: true},
			},
		},
	}
}
