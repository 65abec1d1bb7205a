// Package matcher decides which mappings an event satisfies.
package matcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/services"
)

// ActionLookup finds action descriptors. *services.Registry implements it.
type ActionLookup interface {
	GetActionByType(actionType string) (*services.ActionDescriptor, bool)
}

// Matcher applies shared-event filters.
type Matcher struct {
	actions ActionLookup
	// concurrency bounds filters running at once; filters may call provider APIs.
	concurrency int
	logger      logging.Logger
}

func New(actions ActionLookup, logger logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Matcher{
		actions:     actions,
		concurrency: 4,
		logger:      logger.WithFields(logging.Field{Key: "component", Value: "matcher"}),
	}
}

// Match returns the mappings event applies to, in input order. Candidates are
// active mappings with the event's action type. When the action declares a
// SharedEventFilter each candidate is checked with its owner's id; a filter
// error excludes that mapping only.
func (m *Matcher) Match(ctx context.Context, event *models.Event, mappings []*models.Mapping) []*models.Mapping {
	if event == nil {
		return nil
	}

	var candidates []*models.Mapping
	for _, mapping := range mappings {
		if mapping != nil && mapping.IsActive && mapping.Action.Type == event.ActionType {
			candidates = append(candidates, mapping)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	action, ok := m.actions.GetActionByType(event.ActionType)
	if !ok {
		m.logger.Warn("Event for unregistered action type",
			logging.Field{Key: "event_id", Value: event.ID},
			logging.Field{Key: "action_type", Value: event.ActionType},
		)
		return nil
	}
	filter := action.Metadata.SharedEventFilter
	if filter == nil {
		return candidates
	}

	keep := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, mapping := range candidates {
		i, mapping := i, mapping
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Shared event filter panicked", fmt.Errorf("%v", r),
						logging.Field{Key: "mapping_id", Value: mapping.ID})
				}
			}()
			ok, err := filter(gctx, event, mapping, mapping.CreatedBy)
			if err != nil {
				m.logger.Warn("Shared event filter failed, excluding mapping",
					logging.Field{Key: "event_id", Value: event.ID},
					logging.Field{Key: "mapping_id", Value: mapping.ID},
					logging.Field{Key: "user_id", Value: mapping.CreatedBy},
					logging.Field{Key: "error", Value: err.Error()},
				)
				return nil
			}
			keep[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	var matched []*models.Mapping
	for i, mapping := range candidates {
		if keep[i] {
			matched = append(matched, mapping)
		}
	}
	return matched
}
