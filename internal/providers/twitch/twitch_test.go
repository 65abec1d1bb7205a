package twitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/logging"
	"area-engine/internal/services"
)

func TestTypeMapping(t *testing.T) {
	for _, sub := range []string{SubscriptionChannelFollow, SubscriptionStreamOnline, SubscriptionStreamOffline} {
		action := ActionType(sub)
		require.NotEmpty(t, action)
		assert.Equal(t, sub, SubscriptionType(action))
	}
	assert.Empty(t, ActionType("channel.raid"))
	assert.Empty(t, SubscriptionType("reddit.new_post_in_subreddit"))

	assert.Equal(t, "2", EventVersion(SubscriptionChannelFollow))
	assert.Equal(t, "1", EventVersion(SubscriptionStreamOnline))
}

func TestDescriptor(t *testing.T) {
	reg := services.NewRegistry(logging.NewNopLogger())
	require.NoError(t, reg.Register(Descriptor(nil)))

	action, ok := reg.GetActionByType(ActionNewFollower)
	require.True(t, ok)
	assert.Nil(t, action.Metadata.SharedEventFilter)
	assert.False(t, action.Metadata.SharedEvents)
}
