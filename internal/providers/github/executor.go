package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
	commonhttp "area-engine/internal/common/http"
	"area-engine/internal/executors"
)

// Executor performs GitHub reactions with the mapping owner's token.
type Executor struct {
	api     *commonhttp.APIClient
	baseURL string
	breaker *circuitbreaker.Breaker
}

func NewExecutor(client *http.Client, baseURL string, breakers *circuitbreaker.Manager) *Executor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Executor{
		api:     commonhttp.NewAPIClient(client, UserAgent),
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: breakers.Get(ProviderID),
	}
}

func (e *Executor) Execute(ctx context.Context, ec *executors.ExecutionContext) executors.Result {
	cred := ec.ServiceConfig.Credentials
	if cred == nil || cred.Value == "" {
		return executors.Failed(errors.AuthError("GitHub authentication required"))
	}

	repository, err := executors.StringConfig(ec, "repository")
	if err != nil {
		return executors.Failed(err)
	}
	owner, repo, ok := SplitRepository(repository)
	if !ok {
		return executors.Failed(errors.ValidationError("Invalid repository format. Expected: owner/repo"))
	}

	switch ec.Reaction.Type {
	case ReactionCreateIssue:
		return e.createIssue(ctx, cred.Value, owner, repo, ec)
	case ReactionAddComment:
		return e.addComment(ctx, cred.Value, owner, repo, ec)
	}
	return executors.Failed(errors.ValidationError(fmt.Sprintf("unknown GitHub reaction type: %s", ec.Reaction.Type)))
}

func (e *Executor) createIssue(ctx context.Context, token, owner, repo string, ec *executors.ExecutionContext) executors.Result {
	title, err := executors.StringConfig(ec, "title")
	if err != nil {
		return executors.Failed(err)
	}
	body := map[string]interface{}{"title": title, "body": optional(ec, "body")}
	if labels := splitList(optional(ec, "labels")); len(labels) > 0 {
		body["labels"] = labels
	}
	if assignees := splitList(optional(ec, "assignees")); len(assignees) > 0 {
		body["assignees"] = assignees
	}

	var issue struct {
		ID      int64  `json:"id"`
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	}
	if err := e.post(ctx, token, fmt.Sprintf("/repos/%s/%s/issues", owner, repo), body, &issue); err != nil {
		return executors.Failed(err)
	}
	return executors.Succeeded(map[string]interface{}{
		"issue": map[string]interface{}{
			"id":       issue.ID,
			"number":   issue.Number,
			"title":    issue.Title,
			"html_url": issue.HTMLURL,
			"state":    issue.State,
		},
	})
}

func (e *Executor) addComment(ctx context.Context, token, owner, repo string, ec *executors.ExecutionContext) executors.Result {
	number, err := issueNumber(ec)
	if err != nil {
		return executors.Failed(err)
	}
	text, err := executors.StringConfig(ec, "body")
	if err != nil {
		return executors.Failed(err)
	}

	var comment struct {
		ID      int64  `json:"id"`
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	if err := e.post(ctx, token, path, map[string]interface{}{"body": text}, &comment); err != nil {
		return executors.Failed(err)
	}
	return executors.Succeeded(map[string]interface{}{
		"comment": map[string]interface{}{"id": comment.ID, "html_url": comment.HTMLURL},
	})
}

func (e *Executor) post(ctx context.Context, token, path string, body, out interface{}) error {
	var resp *commonhttp.Response
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.api.Do(ctx, commonhttp.Request{
			Method: http.MethodPost,
			URL:    e.baseURL + path,
			Headers: map[string]string{
				"Authorization": "Bearer " + token,
				"Accept":        "application/vnd.github.v3+json",
			},
			Body: body,
		})
		return err
	})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func optional(ec *executors.ExecutionContext, key string) string {
	v, err := executors.StringConfig(ec, key)
	if err != nil {
		return ""
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// issueNumber accepts a JSON number or a numeric string, which may be a
// placeholder such as {{issue.number}}.
func issueNumber(ec *executors.ExecutionContext) (int, error) {
	switch v := ec.Reaction.Config["issue_number"].(type) {
	case float64:
		if v > 0 {
			return int(v), nil
		}
	case int:
		if v > 0 {
			return v, nil
		}
	case string:
		s, err := executors.StringConfig(ec, "issue_number")
		if err != nil {
			return 0, err
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n, nil
		}
	case nil:
		return 0, errors.ValidationError("missing required field: issue_number")
	}
	return 0, errors.ValidationError("issue_number must be a positive integer")
}
