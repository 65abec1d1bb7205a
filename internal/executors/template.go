package executors

import (
	"fmt"
	"regexp"
	"strings"

	"area-engine/internal/common/errors"
)

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Interpolate replaces {{a.b.c}} placeholders with values from the event
// payload. Unknown paths are left as written.
func Interpolate(template string, payload map[string]interface{}) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		v, ok := lookup(payload, path)
		if !ok || v == nil {
			return match
		}
		return fmt.Sprint(v)
	})
}

func lookup(payload map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// StringConfig returns a required string reaction config value, interpolated
// against the event payload.
func StringConfig(ec *ExecutionContext, key string) (string, error) {
	raw, _ := ec.Reaction.Config[key].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.ValidationError(fmt.Sprintf("missing required field: %s", key))
	}
	var payload map[string]interface{}
	if ec.Event != nil {
		payload = ec.Event.Payload
	}
	return Interpolate(raw, payload), nil
}
