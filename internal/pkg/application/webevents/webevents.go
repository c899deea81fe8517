package webevents

import (
	"context"
	"encoding/json"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/fanout"
)

type WebEvents interface {
	Server() *gosse.Server
	Shutdown()
	Publisher
}

// Publisher is the part of WebEvents the hub bridge needs.
type Publisher interface {
	Publish(event string, data any) error
}

type webEvents struct {
	s *gosse.Server
}

func New() WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{}),
	}
}

func (we *webEvents) Server() *gosse.Server {
	return we.s
}

func (we *webEvents) Shutdown() {
	we.s.Shutdown()
}

func (we *webEvents) Publish(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	message := gosse.NewMessage("", string(b), event)
	we.s.SendMessage("", message)

	return nil
}

// Bridge forwards every event published on the hub to connected web clients.
// It returns when the subscription is closed or the context is cancelled.
func Bridge(ctx context.Context, hub fanout.Hub, we Publisher) {
	log := logging.GetFromContext(ctx)

	sub := hub.Subscribe(fanout.TopicAll)
	defer hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}

			err := we.Publish(event.Type, event)
			if err != nil {
				log.Debug("failed to publish web event", "type", event.Type, "err", err.Error())
			}
		}
	}
}
