package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

const dailyReportEventType = "waterquality.dailyreport"

//go:generate moq -rm -out reportsender_mock.go . ReportSender
type ReportSender interface {
	Send(ctx context.Context, day time.Time, aggregates []types.SourceAggregate) error
}

type reportSender struct {
	subscribers map[string][]SubscriberConfig
}

func NewReportSender(cfg *NotificationConfig) ReportSender {
	r := &reportSender{
		subscribers: make(map[string][]SubscriberConfig),
	}

	if cfg != nil {
		for _, n := range cfg.Notifications {
			r.subscribers[n.Type] = n.Subscribers
		}
	}

	return r
}

// Send delivers the daily aggregate report to every configured subscriber as
// a cloud event. Undeliverable subscribers are logged and do not stop the
// remaining deliveries.
func (r *reportSender) Send(ctx context.Context, day time.Time, aggregates []types.SourceAggregate) error {
	subscribers, ok := r.subscribers[dailyReportEventType]
	if !ok || len(subscribers) == 0 {
		return nil
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return err
	}

	event := cloudevents.NewEvent()
	event.SetID(fmt.Sprintf("dailyreport:%s", day.Format("2006-01-02")))
	event.SetTime(time.Now().UTC())
	event.SetSource("github.com/diwise/water-quality-mgmt")
	event.SetType(dailyReportEventType)

	eventData := struct {
		Day        string                  `json:"day"`
		Aggregates []types.SourceAggregate `json:"aggregates"`
	}{
		Day:        day.Format("2006-01-02"),
		Aggregates: aggregates,
	}

	err = event.SetData(cloudevents.ApplicationJSON, eventData)
	if err != nil {
		return err
	}

	log := logging.GetFromContext(ctx)

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := c.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			log.Error("failed to send daily report", "endpoint", s.Endpoint, "err", result.Error())
			err = fmt.Errorf("%w", result)
		}
	}

	return err
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type NotificationConfig struct {
	Notifications []Notification `yaml:"notifications"`
}

func LoadNotificationConfig(data io.Reader) (*NotificationConfig, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := NotificationConfig{}
	err = yaml.Unmarshal(buf, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
