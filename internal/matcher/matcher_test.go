package matcher

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/services"
	"area-engine/internal/testutil"
)

func registry(t *testing.T, filter services.SharedEventFilter) *services.Registry {
	reg := services.NewRegistry(logging.NewNopLogger())
	require.NoError(t, reg.Register(services.Descriptor{
		ID:   "chat",
		Name: "Chat",
		Actions: []services.ActionDescriptor{
			{ID: "chat.message", Name: "Message", Metadata: services.Metadata{SharedEvents: true, SharedEventFilter: filter}},
			{ID: "chat.open", Name: "Open"},
		},
	}))
	return reg
}

func mapping(user, actionType, channel string) *models.Mapping {
	return testutil.NewMappingBuilder().
		WithUser(user).
		WithAction(actionType, map[string]interface{}{"channel": channel}).
		Build()
}

func TestMatch_NoFilterIncludesEveryCandidate(t *testing.T) {
	m := New(registry(t, nil), logging.NewNopLogger())
	event := testutil.NewEventBuilder().WithActionType("chat.open").Build()

	a := mapping("u1", "chat.open", "")
	b := mapping("u2", "chat.open", "x")
	other := mapping("u3", "chat.message", "")
	inactive := testutil.NewMappingBuilder().WithAction("chat.open", nil).Inactive().Build()

	got := m.Match(context.Background(), event, []*models.Mapping{a, other, b, inactive, nil})
	assert.Equal(t, []*models.Mapping{a, b}, got)
}

func TestMatch_Filter(t *testing.T) {
	var calls int32
	filter := func(_ context.Context, event *models.Event, mapping *models.Mapping, userID string) (bool, error) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, mapping.CreatedBy, userID)
		switch mapping.ConfigString("channel") {
		case "boom":
			return false, testutil.ErrProviderDown
		case "panic":
			panic("filter bug")
		}
		return mapping.ConfigString("channel") == event.Payload["channel"], nil
	}
	m := New(registry(t, filter), logging.NewNopLogger())
	event := testutil.NewEventBuilder().
		WithActionType("chat.message").
		WithPayload(map[string]interface{}{"channel": "C1"}).
		Build()

	keep1 := mapping("u1", "chat.message", "C1")
	drop := mapping("u2", "chat.message", "C2")
	failing := mapping("u3", "chat.message", "boom")
	panicking := mapping("u4", "chat.message", "panic")
	keep2 := mapping("u5", "chat.message", "C1")

	got := m.Match(context.Background(), event, []*models.Mapping{keep1, drop, failing, panicking, keep2})
	assert.Equal(t, []*models.Mapping{keep1, keep2}, got)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestMatch_UnknownActionType(t *testing.T) {
	m := New(registry(t, nil), logging.NewNopLogger())
	event := testutil.NewEventBuilder().WithActionType("gone.action").Build()
	assert.Empty(t, m.Match(context.Background(), event, []*models.Mapping{mapping("u1", "gone.action", "")}))
	assert.Nil(t, m.Match(context.Background(), nil, nil))
}
