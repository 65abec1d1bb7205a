package github

import (
	"area-engine/internal/credentials"
	"area-engine/internal/services"
)

var repositoryConfig = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"repository": map[string]interface{}{
			"type":    "string",
			"pattern": "^[^/\\s]+/[^/\\s]+$",
		},
	},
}

func action(id, name, description, pattern string, tags ...string) services.ActionDescriptor {
	return services.ActionDescriptor{
		ID:           id,
		Name:         name,
		Description:  description,
		ConfigSchema: repositoryConfig,
		Metadata: services.Metadata{
			Category:          "Development",
			Tags:              append([]string{"github", "repository"}, tags...),
			RequiresAuth:      true,
			WebhookPattern:    pattern,
			SharedEvents:      true,
			SharedEventFilter: RepositoryFilter,
		},
	}
}

func Descriptor(resolver credentials.Resolver) services.Descriptor {
	return services.Descriptor{
		ID:          ProviderID,
		Name:        "GitHub",
		Description: "GitHub repositories, issues and pull requests",
		Version:     "1.0.0",
		Credentials: resolver,
		Actions: []services.ActionDescriptor{
			action(ActionPush, "Push to Repository", "Triggers when a push event occurs on a selected repository", "push", "push", "git"),
			action(ActionPullRequestOpened, "Pull Request Opened", "Triggers when a pull request is opened", "pull_request", "pull-request", "opened"),
			action(ActionIssueOpened, "Issue Opened", "Triggers when an issue is opened", "issues", "issue", "opened"),
			action(ActionNewStar, "New Star", "Triggers when someone stars a repository", "star", "star"),
		},
		Reactions: []services.ReactionDescriptor{
			{
				ID:          ReactionCreateIssue,
				Name:        "Create Issue",
				Description: "Creates an issue in a repository",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"repository", "title"},
					"properties": map[string]interface{}{
						"repository": map[string]interface{}{"type": "string", "minLength": 3},
						"title":      map[string]interface{}{"type": "string", "minLength": 1},
						"body":       map[string]interface{}{"type": "string"},
						"labels":     map[string]interface{}{"type": "string", "description": "Comma separated"},
						"assignees":  map[string]interface{}{"type": "string", "description": "Comma separated"},
					},
				},
				Metadata: services.Metadata{Category: "Development", Tags: []string{"github", "issue"}, RequiresAuth: true},
			},
			{
				ID:          ReactionAddComment,
				Name:        "Add Comment",
				Description: "Adds a comment to an issue or pull request",
				ConfigSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"repository", "issue_number", "body"},
					"properties": map[string]interface{}{
						"repository":   map[string]interface{}{"type": "string", "minLength": 3},
						"issue_number": map[string]interface{}{"type": []string{"integer", "string"}},
						"body":         map[string]interface{}{"type": "string", "minLength": 1},
					},
				},
				Metadata: services.Metadata{Category: "Development", Tags: []string{"github", "comment"}, RequiresAuth: true},
			},
		},
	}
}
