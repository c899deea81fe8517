package waterquality

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/storage"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("water-quality-mgmt/waterquality")

// NewSensorReadingHandler accepts raw sensor readings from the message broker
// and feeds them through the same ingestion pipeline as the HTTP boundary.
func NewSensorReadingHandler(svc WaterQuality) messaging.TopicMessageHandler {
	return func(ctx context.Context, d messaging.IncomingTopicMessage, logger *slog.Logger) {
		var err error

		ctx, span := tracer.Start(ctx, d.TopicName())
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logger, ctx)

		in := IncomingReading{}

		err = json.Unmarshal(d.Body(), &in)
		if err != nil {
			log.Error("could not unmarshal message", "err", err.Error())
			return
		}

		if in.Source == "" {
			in.Source = types.SourceSensor
		}

		reading, err := svc.Ingest(ctx, in)
		if err != nil {
			var verr ValidationError
			if errors.As(err, &verr) {
				log.Error("rejected invalid reading", "field", verr.Field, "err", verr.Error())
				return
			}
			if errors.Is(err, storage.ErrAlreadyExist) {
				log.Debug("duplicate reading ignored")
				return
			}
			log.Error("could not ingest reading", "err", err.Error())
			return
		}

		log.Debug("reading ingested", "reading_id", reading.ID, "device_id", reading.DeviceID, "score", reading.QualityScore)
	}
}
