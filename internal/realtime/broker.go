// Package realtime implements the in-process fan-out layer: a topic
// registry that delivers live events (chat messages, typing indicators,
// like counts, notifications) to currently-connected subscribers.
//
// State is process-lifetime only. Clients reconnecting across a restart
// must resubscribe; missed events are recovered through ordinary
// request/response fetches, never replayed here.
package realtime

import (
	"sync"
	"sync/atomic"
)

// Event is the unit of fan-out. Actor identifies the user whose action
// produced the event; conversation streams use it to suppress the
// sender's own echo.
type Event struct {
	Kind  string
	Actor string
	Data  any
}

// Broker maps topics to their live subscriptions. It is safe for
// concurrent use and is constructed once per process and injected into
// every handler that publishes or subscribes.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}

	queueSize int
}

// Subscription is the registration handle for one listener on one
// topic. It is owned by a single subscription stream for its entire
// lifetime and must be closed on every exit path of that stream.
type Subscription struct {
	topic string
	ch    chan Event
	br    *Broker

	closeOnce sync.Once
	dropped   atomic.Uint64
}

const defaultQueueSize = 64

// NewBroker returns an empty registry. queueSize bounds each
// subscription's pending queue; events published while the queue is
// full are dropped for that subscriber only.
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broker{
		topics:    map[string]map[*Subscription]struct{}{},
		queueSize: queueSize,
	}
}

// Subscribe registers a new listener on topic. Subscribing twice under
// one topic yields two independent listeners; each receives every event
// once.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan Event, b.queueSize),
		br:    b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.topics[topic]
	if m == nil {
		m = map[*Subscription]struct{}{}
		b.topics[topic] = m
	}
	m[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every listener registered on topic at call
// time. Delivery is non-blocking: a subscriber with a full queue has
// the event dropped rather than delaying the publisher or its peers.
//
// Sends happen under the read lock so a concurrent Close (which needs
// the write lock) can never close a channel mid-send.
func (b *Broker) Publish(topic string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of live listeners on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Events is the subscription's pending queue. The channel is closed by
// Close; events already queued at that point are discarded.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Topic reports the topic this subscription is registered on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Dropped reports how many events were discarded because this
// subscriber's queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from the registry and closes its
// queue. It is idempotent: closing twice, or closing a subscription
// whose topic set is already gone, is a no-op.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		b := s.br
		b.mu.Lock()
		defer b.mu.Unlock()
		if m := b.topics[s.topic]; m != nil {
			delete(m, s)
			if len(m) == 0 {
				delete(b.topics, s.topic)
			}
		}
		close(s.ch)
	})
}
