package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/pkg/types"
)

const (
	EventReadingCreated = "reading.created"
	EventAlertRaised    = "alert.raised"
)

// TopicAll delivers every published event regardless of topic. Used by the
// web event bridge.
const TopicAll = "*"

const subscriptionBuffer = 32

type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub is an in-process, best effort publish/subscribe broadcaster. Publish
// never blocks and never returns an error, events to slow or gone subscribers
// are dropped.
//
//go:generate moq -rm -out fanout_mock.go . Hub
type Hub interface {
	Subscribe(topic string) *Subscription
	Unsubscribe(sub *Subscription)
	Publish(ctx context.Context, topic string, event Event)
	Shutdown()
}

type Subscription struct {
	topic  string
	events chan Event
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

type hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	closed      bool
}

func New() Hub {
	return &hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
	}
}

func (h *hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic:  topic,
		events: make(chan Event, subscriptionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.events)
		return sub
	}

	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[*Subscription]struct{})
	}
	h.subscribers[topic][sub] = struct{}{}

	return sub
}

func (h *hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[sub.topic]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub.events)
		}
	}
}

func (h *hub) Publish(ctx context.Context, topic string, event Event) {
	event.Topic = topic
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	dropped := 0

	deliver := func(subs map[*Subscription]struct{}) {
		for sub := range subs {
			select {
			case sub.events <- event:
			default:
				dropped++
			}
		}
	}

	deliver(h.subscribers[topic])
	deliver(h.subscribers[TopicAll])

	if dropped > 0 {
		logging.GetFromContext(ctx).Debug("dropped fanout event for slow subscribers", "topic", topic, "count", dropped)
	}
}

func (h *hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, subs := range h.subscribers {
		for sub := range subs {
			close(sub.events)
		}
	}

	h.subscribers = make(map[string]map[*Subscription]struct{})
}

// DeviceTopic returns the topic on which events for a single device are
// published.
func DeviceTopic(deviceID string) string {
	return "device." + deviceID
}

// LocationTopic derives a stable room key from a coordinate pair by rounding
// it to a grid of roughly one kilometre.
func LocationTopic(location types.Location) string {
	return fmt.Sprintf("location.%.2f:%.2f", location.Latitude, location.Longitude)
}
