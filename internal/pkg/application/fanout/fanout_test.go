package fanout

import (
	"context"
	"testing"

	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/matryer/is"
)

func TestSubscribersReceivePublishedEvents(t *testing.T) {
	is := is.New(t)
	hub := New()
	defer hub.Shutdown()

	sub := hub.Subscribe("device.abc")

	hub.Publish(context.Background(), "device.abc", Event{Type: EventReadingCreated, Data: "hello"})

	event := <-sub.Events()
	is.Equal(event.Type, EventReadingCreated)
	is.Equal(event.Topic, "device.abc")
	is.Equal(event.Data, "hello")
	is.True(!event.Timestamp.IsZero())
}

func TestEventsAreScopedToTheirTopic(t *testing.T) {
	is := is.New(t)
	hub := New()
	defer hub.Shutdown()

	other := hub.Subscribe("device.other")

	hub.Publish(context.Background(), "device.abc", Event{Type: EventReadingCreated})

	select {
	case <-other.Events():
		is.Fail() // event leaked to an unrelated topic
	default:
	}
}

func TestWildcardSubscriberReceivesEverything(t *testing.T) {
	is := is.New(t)
	hub := New()
	defer hub.Shutdown()

	all := hub.Subscribe(TopicAll)

	hub.Publish(context.Background(), "device.abc", Event{Type: EventReadingCreated})
	hub.Publish(context.Background(), "location.62.39:17.31", Event{Type: EventAlertRaised})

	first := <-all.Events()
	second := <-all.Events()

	is.Equal(first.Topic, "device.abc")
	is.Equal(second.Topic, "location.62.39:17.31")
}

func TestPublishNeverBlocksOnSlowSubscribers(t *testing.T) {
	is := is.New(t)
	hub := New()
	defer hub.Shutdown()

	sub := hub.Subscribe("device.abc")

	// overflow the subscription buffer without anyone reading
	for i := 0; i < subscriptionBuffer*2; i++ {
		hub.Publish(context.Background(), "device.abc", Event{Type: EventReadingCreated})
	}

	// the buffered events are still there, the overflow was dropped
	received := 0
	for {
		select {
		case <-sub.Events():
			received++
			continue
		default:
		}
		break
	}

	is.Equal(received, subscriptionBuffer)
}

func TestUnsubscribeClosesTheChannel(t *testing.T) {
	is := is.New(t)
	hub := New()
	defer hub.Shutdown()

	sub := hub.Subscribe("device.abc")
	hub.Unsubscribe(sub)

	_, open := <-sub.Events()
	is.True(!open)

	// publishing after unsubscribe must not panic
	hub.Publish(context.Background(), "device.abc", Event{Type: EventReadingCreated})
}

func TestShutdownClosesAllSubscriptions(t *testing.T) {
	is := is.New(t)
	hub := New()

	sub := hub.Subscribe("device.abc")
	hub.Shutdown()

	_, open := <-sub.Events()
	is.True(!open)

	hub.Publish(context.Background(), "device.abc", Event{Type: EventReadingCreated})

	late := hub.Subscribe("device.abc")
	_, open = <-late.Events()
	is.True(!open)
}

func TestTopicDerivation(t *testing.T) {
	is := is.New(t)

	is.Equal(DeviceTopic("abc-123"), "device.abc-123")

	location := types.Location{Latitude: 62.388178, Longitude: 17.315090}
	is.Equal(LocationTopic(location), "location.62.39:17.32")

	// nearby coordinates share a cell
	nearby := types.Location{Latitude: 62.390111, Longitude: 17.318999}
	is.Equal(LocationTopic(location), LocationTopic(nearby))
}
