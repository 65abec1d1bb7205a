// Package reddit polls Reddit listings for new posts.
package reddit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"area-engine/internal/circuitbreaker"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/models"
	"area-engine/internal/poller"
)

const (
	ProviderID = "reddit"

	ActionNewPostInSubreddit = "reddit.new_post_in_subreddit"
	ActionNewPostByUser      = "reddit.new_post_by_user"

	EventSource = "reddit-polling"

	DefaultBaseURL = "https://oauth.reddit.com"
	TokenURL       = "https://www.reddit.com/api/v1/access_token"
	UserAgent      = "AREA-App/1.0"

	listingLimit = 10
)

// Source lists subreddit and user posts.
type Source struct {
	api     *commonhttp.APIClient
	baseURL string
	breaker *circuitbreaker.Breaker
	nowFn   func() time.Time
}

// NewSource creates a Source. An empty baseURL targets oauth.reddit.com.
func NewSource(client *http.Client, baseURL string, breakers *circuitbreaker.Manager) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{
		api:     commonhttp.NewAPIClient(client, UserAgent),
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: breakers.Get(ProviderID),
		nowFn:   time.Now,
	}
}

func (s *Source) Provider() string {
	return ProviderID
}

func (s *Source) ResourceKeys(m *models.Mapping) []string {
	switch m.Action.Type {
	case ActionNewPostInSubreddit:
		if key := poller.NormalizeKey(m.ConfigString("subreddit")); key != "" {
			return []string{key}
		}
	case ActionNewPostByUser:
		name := poller.NormalizeKey(m.ConfigString("username"))
		name = strings.TrimPrefix(strings.TrimPrefix(name, "user/"), "u/")
		if name != "" {
			return []string{"u/" + name}
		}
	}
	return nil
}

// ListingPath maps a resource key to its listing endpoint.
func ListingPath(key string) string {
	switch {
	case strings.HasPrefix(key, "u/"), strings.HasPrefix(key, "user/"):
		return "/" + key + "/submitted"
	case strings.HasPrefix(key, "r/"):
		return "/" + key + "/new"
	default:
		return "/r/" + key + "/new"
	}
}

type post struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Selftext    string  `json:"selftext"`
	IsSelf      bool    `json:"is_self"`
}

type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (s *Source) Fetch(ctx context.Context, cred *models.Credential, resourceKey string) ([]poller.Item, error) {
	url := fmt.Sprintf("%s%s.json?limit=%d", s.baseURL, ListingPath(resourceKey), listingLimit)

	var resp *commonhttp.Response
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.api.Do(ctx, commonhttp.Request{
			Method:  http.MethodGet,
			URL:     url,
			Headers: map[string]string{"Authorization": "Bearer " + cred.Value},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var l listing
	if err := resp.Decode(&l); err != nil {
		return nil, err
	}

	items := make([]poller.Item, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		p := child.Data
		if p.Name == "" {
			continue
		}
		items = append(items, poller.Item{ID: p.Name, Data: p.payload()})
	}
	return items, nil
}

func (p post) payload() map[string]interface{} {
	return map[string]interface{}{
		"id":           p.ID,
		"name":         p.Name,
		"title":        p.Title,
		"author":       p.Author,
		"subreddit":    p.Subreddit,
		"url":          p.URL,
		"permalink":    "https://reddit.com" + p.Permalink,
		"created_utc":  p.CreatedUTC,
		"score":        p.Score,
		"num_comments": p.NumComments,
		"selftext":     p.Selftext,
		"is_self":      p.IsSelf,
	}
}

func (s *Source) BuildEvent(userID, resourceKey string, item poller.Item, m *models.Mapping) *models.Event {
	now := s.nowFn().UTC()
	return &models.Event{
		ID:         uuid.NewString(),
		ActionType: m.Action.Type,
		UserID:     userID,
		Payload: map[string]interface{}{
			"post":      item.Data,
			"subreddit": resourceKey,
			"timestamp": now.Format("2006-01-02T15:04:05.000Z07:00"),
		},
		Source:    EventSource,
		Status:    models.EventStatusReceived,
		CreatedAt: now,
	}
}
