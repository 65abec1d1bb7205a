// Package github provides the GitHub service: repository events delivered by
// repository webhooks and issue reactions.
package github

import (
	"context"
	"strings"

	"area-engine/internal/models"
)

const (
	ProviderID = "github"

	ActionPush              = "github.push"
	ActionPullRequestOpened = "github.pull_request_opened"
	ActionIssueOpened       = "github.issue_opened"
	ActionNewStar           = "github.new_star"
	ReactionCreateIssue     = "github.create_issue"
	ReactionAddComment      = "github.add_comment"

	EventSource = "github-webhook"

	DefaultBaseURL = "https://api.github.com"
	TokenURL       = "https://github.com/login/oauth/access_token"
	UserAgent      = "AREA-App"
)

// ActionType maps an X-GitHub-Event name and its payload to an action type.
// It returns "" for deliveries no action listens to.
func ActionType(event string, payload map[string]interface{}) string {
	action, _ := payload["action"].(string)
	switch event {
	case "push":
		return ActionPush
	case "pull_request":
		if action == "opened" {
			return ActionPullRequestOpened
		}
	case "issues":
		if action == "opened" {
			return ActionIssueOpened
		}
	case "star":
		if action == "created" {
			return ActionNewStar
		}
	}
	return ""
}

// EventTypes lists the hook events needed for the given action types.
func EventTypes(actionTypes ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range actionTypes {
		var ev string
		switch t {
		case ActionPush:
			ev = "push"
		case ActionPullRequestOpened:
			ev = "pull_request"
		case ActionIssueOpened:
			ev = "issues"
		case ActionNewStar:
			ev = "star"
		}
		if ev != "" && !seen[ev] {
			seen[ev] = true
			out = append(out, ev)
		}
	}
	return out
}

// RepositoryFullName returns payload.repository.full_name.
func RepositoryFullName(payload map[string]interface{}) string {
	repo, ok := payload["repository"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := repo["full_name"].(string)
	return name
}

// RepositoryFilter keeps a mapping when its repository config matches the
// delivery's repository. A mapping without one accepts every repository.
func RepositoryFilter(_ context.Context, event *models.Event, mapping *models.Mapping, _ string) (bool, error) {
	want := mapping.ConfigString("repository")
	if want == "" {
		return true, nil
	}
	return strings.EqualFold(want, RepositoryFullName(event.Payload)), nil
}

// SplitRepository splits owner/repo.
func SplitRepository(full string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}
