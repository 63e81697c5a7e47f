// Package dispatch normalizes raw events from every transport into a
// single stream: deduplicate, persist, then fan out to in-process
// subscribers.
package dispatch

import (
	"sync"

	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/metrics"
)

// TopicAll subscribes to every event type.
const TopicAll = "*"

const subscriberQueueSize = 64

type subscriber struct {
	ch chan domain.Event
}

// Bus is a topic-keyed in-process fan-out. Each subscriber owns a bounded
// queue; a subscriber that stops draining loses events instead of
// stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for one event type (or TopicAll). The returned
// cancel func is idempotent and closes the channel.
func (b *Bus) Subscribe(eventType string) (<-chan domain.Event, func()) {
	sub := &subscriber{ch: make(chan domain.Event, subscriberQueueSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	set, ok := b.topics[eventType]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.topics[eventType] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	metrics.BusSubscribers.WithLabelValues(eventType).Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.topics[eventType]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.topics, eventType)
				}
			}
			closed := b.closed
			b.mu.Unlock()
			if !closed {
				close(sub.ch)
			}
			metrics.BusSubscribers.WithLabelValues(eventType).Dec()
		})
	}
	return sub.ch, cancel
}

// Publish delivers to the event's type topic and TopicAll. Never blocks.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.deliver(ev.Type, ev)
	b.deliver(TopicAll, ev)
}

func (b *Bus) deliver(topic string, ev domain.Event) {
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- ev:
		default:
			metrics.BusDroppedTotal.WithLabelValues(topic).Inc()
		}
	}
}

// Close drops all subscribers and closes their channels. Publish and
// Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, set := range b.topics {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
}
