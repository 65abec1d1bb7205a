package reddit

import (
	"area-engine/internal/credentials"
	"area-engine/internal/services"
)

const (
	ReactionUpvotePost  = "reddit.upvote_post"
	ReactionPostComment = "reddit.post_comment"
)

func Descriptor(resolver credentials.Resolver) services.Descriptor {
	return services.Descriptor{
		ID:          ProviderID,
		Name:        "Reddit",
		Description: "Reddit service for social media integration",
		Version:     "1.0.0",
		Credentials: resolver,
		Actions: []services.ActionDescriptor{
			{
				ID:          ActionNewPostInSubreddit,
				Name:        "New Post in Subreddit",
				Description: "Triggered when a new post is made in a specified subreddit or user profile",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"subreddit"},
					"properties": map[string]interface{}{
						"subreddit": map[string]interface{}{"type": "string", "minLength": 1},
					},
				},
				InputSchema: postSchema,
				Metadata: services.Metadata{
					Category:     "Social Media",
					Tags:         []string{"reddit", "social", "post", "subreddit"},
					RequiresAuth: true,
				},
			},
			{
				ID:          ActionNewPostByUser,
				Name:        "New Post by User",
				Description: "Triggered when a user submits a new post",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"username"},
					"properties": map[string]interface{}{
						"username": map[string]interface{}{"type": "string", "minLength": 1},
					},
				},
				InputSchema: postSchema,
				Metadata: services.Metadata{
					Category:     "Social Media",
					Tags:         []string{"reddit", "social", "post", "user"},
					RequiresAuth: true,
				},
			},
		},
		Reactions: []services.ReactionDescriptor{
			{
				ID:          ReactionUpvotePost,
				Name:        "Upvote Post",
				Description: "Upvotes a specific Reddit post",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"post_id"},
					"properties": map[string]interface{}{
						"post_id": map[string]interface{}{"type": "string", "minLength": 1},
					},
				},
				Metadata: services.Metadata{Category: "Social Media", Tags: []string{"reddit", "vote"}, RequiresAuth: true},
			},
			{
				ID:          ReactionPostComment,
				Name:        "Post Comment",
				Description: "Posts a comment on a specific Reddit post",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"post_id", "comment_text"},
					"properties": map[string]interface{}{
						"post_id":      map[string]interface{}{"type": "string", "minLength": 1},
						"comment_text": map[string]interface{}{"type": "string", "minLength": 1},
					},
				},
				Metadata: services.Metadata{Category: "Social Media", Tags: []string{"reddit", "comment"}, RequiresAuth: true},
			},
		},
	}
}

var postSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"post", "subreddit", "timestamp"},
	"properties": map[string]interface{}{
		"post": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":           map[string]interface{}{"type": "string"},
				"name":         map[string]interface{}{"type": "string", "description": "Full Reddit ID (t3_xxxxx)"},
				"title":        map[string]interface{}{"type": "string"},
				"author":       map[string]interface{}{"type": "string"},
				"subreddit":    map[string]interface{}{"type": "string"},
				"url":          map[string]interface{}{"type": "string"},
				"permalink":    map[string]interface{}{"type": "string"},
				"created_utc":  map[string]interface{}{"type": "number"},
				"score":        map[string]interface{}{"type": "number"},
				"num_comments": map[string]interface{}{"type": "number"},
				"selftext":     map[string]interface{}{"type": "string"},
				"is_self":      map[string]interface{}{"type": "boolean"},
			},
		},
		"subreddit": map[string]interface{}{"type": "string"},
		"timestamp": map[string]interface{}{"type": "string"},
	},
}
