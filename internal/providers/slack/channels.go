package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/credentials"
	"area-engine/internal/models"
)

var channelIDPattern = regexp.MustCompile(`^[CGD][A-Z0-9]{6,}$`)

// IsChannelID reports whether s looks like a channel id rather than a name.
func IsChannelID(s string) bool {
	return channelIDPattern.MatchString(s)
}

// NormalizeChannelName strips the leading # and lowercases.
func NormalizeChannelName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

const maxChannelPages = 10

// ChannelResolver maps channel names to ids with the user's own token.
// Results are cached per (user, name).
type ChannelResolver struct {
	client   *client
	resolver credentials.Resolver
	cache    *gocache.Cache
	logger   logging.Logger
}

func NewChannelResolver(httpClient *http.Client, baseURL string, breakers *circuitbreaker.Manager, resolver credentials.Resolver, ttl time.Duration, logger logging.Logger) *ChannelResolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ChannelResolver{
		client:   newClient(httpClient, baseURL, breakers),
		resolver: resolver,
		cache:    gocache.New(ttl, 2*ttl),
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "slack_channels"}),
	}
}

// ChannelID returns the id for channel, which may already be an id.
func (r *ChannelResolver) ChannelID(ctx context.Context, userID, channel string) (string, error) {
	channel = strings.TrimSpace(channel)
	if IsChannelID(channel) {
		return channel, nil
	}
	name := NormalizeChannelName(channel)
	if name == "" {
		return "", errors.ValidationError("channel is empty")
	}

	cacheKey := userID + ":" + name
	if id, ok := r.cache.Get(cacheKey); ok {
		return id.(string), nil
	}

	cred, err := r.resolver.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	type page struct {
		Channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channels"`
		Metadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}

	cursor := ""
	for i := 0; i < maxChannelPages; i++ {
		q := url.Values{}
		q.Set("types", "public_channel,private_channel")
		q.Set("exclude_archived", "true")
		q.Set("limit", "200")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var p page
		if err := r.client.call(ctx, cred.Value, "conversations.list", q, nil, &p); err != nil {
			return "", err
		}
		for _, ch := range p.Channels {
			r.cache.SetDefault(userID+":"+strings.ToLower(ch.Name), ch.ID)
			if strings.EqualFold(ch.Name, name) {
				return ch.ID, nil
			}
		}
		if p.Metadata.NextCursor == "" {
			break
		}
		cursor = p.Metadata.NextCursor
	}
	return "", errors.NotFoundError(fmt.Sprintf("slack channel #%s", name))
}

// Filter decides whether a shared Slack event belongs to a mapping. A mapping
// without a channel accepts every channel.
func (r *ChannelResolver) Filter(ctx context.Context, event *models.Event, mapping *models.Mapping, userID string) (bool, error) {
	eventChannel := EventChannel(event)
	if eventChannel == "" {
		return false, nil
	}

	if emoji := mapping.ConfigString("emoji"); emoji != "" && event.ActionType == ActionReactionAdded {
		reaction, _ := event.Payload["reaction"].(string)
		if reaction != strings.Trim(emoji, ":") {
			return false, nil
		}
	}

	want := mapping.ConfigString("channel")
	if want == "" {
		return true, nil
	}
	id, err := r.ChannelID(ctx, userID, want)
	if err != nil {
		return false, err
	}
	return id == eventChannel, nil
}

// EventChannel returns the channel id an Events API payload refers to.
func EventChannel(event *models.Event) string {
	if event == nil {
		return ""
	}
	if ch, ok := event.Payload["channel"].(string); ok {
		return ch
	}
	if item, ok := event.Payload["item"].(map[string]interface{}); ok {
		ch, _ := item["channel"].(string)
		return ch
	}
	return ""
}
