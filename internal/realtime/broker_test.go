package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesEveryListenerOnce(t *testing.T) {
	b := NewBroker(0)
	topic := ConversationTopic(uuid.New())

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = b.Subscribe(topic)
	}

	b.Publish(topic, Event{Kind: "chat-message", Data: "hi"})

	for i, sub := range subs {
		got := drain(sub)
		require.Len(t, got, 1, "subscriber %d", i)
		assert.Equal(t, "hi", got[0].Data)
	}
}

func TestPublishOrderIsFIFOPerListener(t *testing.T) {
	b := NewBroker(16)
	topic := PostLikesTopic(uuid.New())
	sub := b.Subscribe(topic)

	for i := 0; i < 10; i++ {
		b.Publish(topic, Event{Kind: "like-count-update", Data: i})
	}

	got := drain(sub)
	require.Len(t, got, 10)
	for i, ev := range got {
		assert.Equal(t, i, ev.Data)
	}
}

func TestNoCrossTopicLeakage(t *testing.T) {
	b := NewBroker(0)
	a := b.Subscribe("conversation:a")
	other := b.Subscribe("conversation:b")

	b.Publish("conversation:a", Event{Kind: "chat-message"})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(other))
}

func TestDoubleSubscribeDoubleReceives(t *testing.T) {
	// Same logical client subscribing twice gets two independent
	// listeners, each delivered once.
	b := NewBroker(0)
	topic := UserNotificationsTopic(uuid.New())
	first := b.Subscribe(topic)
	second := b.Subscribe(topic)

	b.Publish(topic, Event{Kind: "notification"})

	assert.Len(t, drain(first), 1)
	assert.Len(t, drain(second), 1)
}

func TestCloseRemovesListener(t *testing.T) {
	b := NewBroker(0)
	topic := ConversationTopic(uuid.New())

	baseline := b.Subscribers(topic)
	sub := b.Subscribe(topic)
	require.Equal(t, baseline+1, b.Subscribers(topic))

	sub.Close()
	assert.Equal(t, baseline, b.Subscribers(topic))

	// Queue is closed so a blocked consumer wakes up.
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBroker(0)
	topic := PostLikesTopic(uuid.New())
	sub := b.Subscribe(topic)
	peer := b.Subscribe(topic)

	sub.Close()
	assert.NotPanics(t, func() { sub.Close() })

	// The surviving listener is unaffected.
	b.Publish(topic, Event{Kind: "like-count-update", Data: 1})
	assert.Len(t, drain(peer), 1)
}

func TestPublishAfterDisconnectDoesNotBlock(t *testing.T) {
	b := NewBroker(0)
	topic := UserNotificationsTopic(uuid.New())
	sub := b.Subscribe(topic)
	sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(topic, Event{Kind: "notification"})
	}()
	<-done
}

func TestSlowConsumerDropsWithoutStallingPeers(t *testing.T) {
	b := NewBroker(2)
	topic := ConversationTopic(uuid.New())
	slow := b.Subscribe(topic)
	fast := b.Subscribe(topic)

	for i := 0; i < 5; i++ {
		b.Publish(topic, Event{Kind: "chat-message", Data: i})
		// Keep the fast consumer drained so its queue never fills.
		drain(fast)
	}

	assert.Len(t, drain(slow), 2)
	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Zero(t, fast.Dropped())
}

func TestConcurrentPublishSubscribeClose(t *testing.T) {
	b := NewBroker(8)
	topics := []string{
		ConversationTopic(uuid.New()),
		PostLikesTopic(uuid.New()),
		UserNotificationsTopic(uuid.New()),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := topics[i%len(topics)]
			for j := 0; j < 100; j++ {
				sub := b.Subscribe(topic)
				b.Publish(topic, Event{Kind: "chat-message", Data: fmt.Sprintf("%d/%d", i, j)})
				drain(sub)
				sub.Close()
			}
		}(i)
	}
	wg.Wait()

	for _, topic := range topics {
		assert.Zero(t, b.Subscribers(topic), "registry returns to baseline for %s", topic)
	}
}

func TestTopicKeys(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-00000000002a")
	assert.Equal(t, "conversation:"+id.String(), ConversationTopic(id))
	assert.Equal(t, "post-likes:"+id.String(), PostLikesTopic(id))
	assert.Equal(t, "user-notifications:"+id.String(), UserNotificationsTopic(id))
}

func TestSubscriptionReportsItsTopic(t *testing.T) {
	br := NewBroker(4)
	sub := br.Subscribe("conversation:abc")
	defer sub.Close()
	assert.Equal(t, "conversation:abc", sub.Topic())
}
