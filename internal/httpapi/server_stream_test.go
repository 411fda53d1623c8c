package httpapi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glimpse/internal/realtime"
)

func TestShouldForwardSuppressesConversationSelfEcho(t *testing.T) {
	me := uuid.New().String()
	other := uuid.New().String()

	mine := realtime.Event{Kind: eventChatMessage, Actor: me}
	theirs := realtime.Event{Kind: eventChatMessage, Actor: other}

	assert.False(t, shouldForward("conversation", mine, me))
	assert.True(t, shouldForward("conversation", theirs, me))
	assert.True(t, shouldForward("conversation", mine, other))
}

func TestShouldForwardDeliversOwnLikeAndNotificationEvents(t *testing.T) {
	me := uuid.New().String()

	like := realtime.Event{Kind: eventLikeCountUpdate, Actor: me}
	state := realtime.Event{Kind: eventNotificationState, Actor: me}

	assert.True(t, shouldForward("post-likes", like, me))
	assert.True(t, shouldForward("notifications", state, me))
}

// Two members of a conversation each see the other's traffic but not
// their own, even on the same broker topic.
func TestConversationFanOutFiltering(t *testing.T) {
	br := realtime.NewBroker(8)
	convID := uuid.New()
	topic := realtime.ConversationTopic(convID)

	alice := uuid.New().String()
	bob := uuid.New().String()

	aliceSub := br.Subscribe(topic)
	defer aliceSub.Close()
	bobSub := br.Subscribe(topic)
	defer bobSub.Close()

	br.Publish(topic, realtime.Event{Kind: eventChatMessage, Actor: alice, Data: "from alice"})
	br.Publish(topic, realtime.Event{Kind: eventTypingIndicator, Actor: bob, Data: "bob typing"})

	var aliceSaw, bobSaw []string
	for i := 0; i < 2; i++ {
		ev := <-aliceSub.Events()
		if shouldForward("conversation", ev, alice) {
			aliceSaw = append(aliceSaw, ev.Kind)
		}
		ev = <-bobSub.Events()
		if shouldForward("conversation", ev, bob) {
			bobSaw = append(bobSaw, ev.Kind)
		}
	}

	require.Equal(t, []string{eventTypingIndicator}, aliceSaw)
	require.Equal(t, []string{eventChatMessage}, bobSaw)
}
