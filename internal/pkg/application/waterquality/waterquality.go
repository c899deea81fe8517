package waterquality

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/devices"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/fanout"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/storage"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/google/uuid"
)

var ErrReadingNotFound = fmt.Errorf("reading not found")
var ErrAlreadyAcknowledged = fmt.Errorf("reading already acknowledged")

// ValidationError rejects malformed input before any state change and names
// the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid reading: %s (%s)", e.Reason, e.Field)
}

// IncomingReading is the raw input accepted from the transport boundary.
// Score, status and alerts are always derived here, never supplied by the
// caller.
type IncomingReading struct {
	Location *types.Location `json:"location"`
	Source   string          `json:"source"`
	DeviceID string          `json:"deviceID,omitempty"`
	Tenant   string          `json:"tenant,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`

	SensorPayload map[string]types.Measurement `json:"sensorPayload,omitempty"`
	ReviewPayload *types.ReviewPayload         `json:"reviewPayload,omitempty"`

	Weather *types.WeatherSnapshot `json:"weather,omitempty"`
}

//go:generate moq -rm -out waterquality_mock.go . WaterQuality
type WaterQuality interface {
	Ingest(ctx context.Context, in IncomingReading) (types.Reading, error)

	GetByID(ctx context.Context, readingID string, tenants []string) (types.Reading, error)
	Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Reading], error)
	Acknowledge(ctx context.Context, readingID, acknowledgedBy string, tenants []string) error

	RegisterTopicMessageHandlers(ctx context.Context) error
}

//go:generate moq -rm -out readingstorage_mock.go . ReadingStorage
type ReadingStorage interface {
	AddReading(ctx context.Context, reading types.Reading) error
	GetReading(ctx context.Context, conditions ...storage.ConditionFunc) (types.Reading, error)
	QueryReadings(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Reading], error)
	AcknowledgeReading(ctx context.Context, readingID, acknowledgedBy string, at time.Time) error
}

type service struct {
	storage   ReadingStorage
	registry  devices.DeviceRegistry
	hub       fanout.Hub
	messenger messaging.MsgContext
}

func New(storage ReadingStorage, registry devices.DeviceRegistry, hub fanout.Hub, messenger messaging.MsgContext) WaterQuality {
	return &service{
		storage:   storage,
		registry:  registry,
		hub:       hub,
		messenger: messenger,
	}
}

func (s *service) RegisterTopicMessageHandlers(ctx context.Context) error {
	return s.messenger.RegisterTopicMessageHandler("reading.sensor", NewSensorReadingHandler(s))
}

// Ingest runs the full pipeline for one raw reading: validate, resolve the
// device, score, evaluate thresholds, persist, commit device counters and fan
// the result out. Persistence errors are returned verbatim, retries belong to
// the caller.
func (s *service) Ingest(ctx context.Context, in IncomingReading) (types.Reading, error) {
	log := logging.GetFromContext(ctx)

	err := validate(in)
	if err != nil {
		return types.Reading{}, err
	}

	tenant := in.Tenant
	if tenant == "" {
		tenant = "default"
	}

	timestamp := time.Now().UTC()
	if in.Timestamp != nil {
		timestamp = in.Timestamp.UTC()
	}

	reading := types.Reading{
		ID:            uuid.NewString(),
		Location:      *in.Location,
		Source:        in.Source,
		DeviceID:      in.DeviceID,
		Tenant:        tenant,
		Timestamp:     timestamp,
		SensorPayload: in.SensorPayload,
		ReviewPayload: in.ReviewPayload,
		Weather:       in.Weather,
	}

	var device types.Device

	if reading.Source == types.SourceSensor {
		device, err = s.registry.FindOrRegister(ctx, reading.DeviceID, tenant, reading.Location)
		if err != nil {
			return types.Reading{}, err
		}

		reading.SensorPayload = applyCalibration(reading.SensorPayload, device.Calibration)
	}

	reading.QualityScore, reading.Status = Score(reading)
	reading.Alerts = EvaluateThresholds(reading, device.Thresholds)

	err = s.storage.AddReading(ctx, reading)
	if err != nil {
		if reading.Source == types.SourceSensor {
			ferr := s.registry.RecordFailedReading(ctx, reading.DeviceID)
			if ferr != nil {
				log.Error("could not record failed reading", "device_id", reading.DeviceID, "err", ferr.Error())
			}
		}
		return types.Reading{}, err
	}

	if reading.Source == types.SourceSensor {
		err := s.registry.RecordSuccessfulReading(ctx, reading.DeviceID, reading.QualityScore, reading.Timestamp)
		if err != nil {
			log.Error("could not update device statistics", "device_id", reading.DeviceID, "err", err.Error())
		}
	}

	s.fanOut(ctx, reading)

	return reading, nil
}

// fanOut is best effort by design, nothing in here may fail the ingestion.
func (s *service) fanOut(ctx context.Context, reading types.Reading) {
	log := logging.GetFromContext(ctx)

	topics := []string{fanout.LocationTopic(reading.Location)}
	if reading.Source == types.SourceSensor {
		topics = append(topics, fanout.DeviceTopic(reading.DeviceID))
	}

	for _, topic := range topics {
		s.hub.Publish(ctx, topic, fanout.Event{
			Type:      fanout.EventReadingCreated,
			Data:      reading,
			Timestamp: reading.Timestamp,
		})

		if len(reading.Alerts) > 0 {
			s.hub.Publish(ctx, topic, fanout.Event{
				Type: fanout.EventAlertRaised,
				Data: types.AlertRaised{
					ReadingID: reading.ID,
					DeviceID:  reading.DeviceID,
					Alerts:    reading.Alerts,
					Tenant:    reading.Tenant,
					Timestamp: reading.Timestamp,
				},
				Timestamp: reading.Timestamp,
			})
		}
	}

	err := s.messenger.PublishOnTopic(ctx, &types.ReadingCreated{
		Reading:   reading,
		Tenant:    reading.Tenant,
		Timestamp: reading.Timestamp,
	})
	if err != nil {
		log.Debug("failed to publish reading.created", "err", err.Error())
	}

	if len(reading.Alerts) > 0 {
		err := s.messenger.PublishOnTopic(ctx, &types.AlertRaised{
			ReadingID: reading.ID,
			DeviceID:  reading.DeviceID,
			Alerts:    reading.Alerts,
			Tenant:    reading.Tenant,
			Timestamp: reading.Timestamp,
		})
		if err != nil {
			log.Debug("failed to publish alarms.alertRaised", "err", err.Error())
		}
	}
}

func (s *service) GetByID(ctx context.Context, readingID string, tenants []string) (types.Reading, error) {
	reading, err := s.storage.GetReading(ctx, storage.WithReadingID(readingID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.Reading{}, ErrReadingNotFound
		}
		return types.Reading{}, err
	}

	return reading, nil
}

func (s *service) Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Reading], error) {
	conditions := []storage.ConditionFunc{storage.WithTenants(tenants)}

	for k, v := range params {
		if len(v) == 0 {
			continue
		}
		switch k {
		case "device_id":
			conditions = append(conditions, storage.WithDeviceID(v[0]))
		case "source":
			conditions = append(conditions, storage.WithSource(v[0]))
		case "status":
			conditions = append(conditions, storage.WithStatus(v[0]))
		case "from":
			if ts, err := time.Parse(time.RFC3339, v[0]); err == nil {
				conditions = append(conditions, storage.WithTimeAt(ts))
			}
		case "to":
			if ts, err := time.Parse(time.RFC3339, v[0]); err == nil {
				conditions = append(conditions, storage.WithEndTimeAt(ts))
			}
		case "offset":
			if offset, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, storage.WithOffset(offset))
			}
		case "limit":
			if limit, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, storage.WithLimit(limit))
			}
		case "sortby":
			conditions = append(conditions, storage.WithSortBy(v[0]))
		}
	}

	return s.storage.QueryReadings(ctx, conditions...)
}

// Acknowledge flips the acknowledgement fields once, false to true only.
func (s *service) Acknowledge(ctx context.Context, readingID, acknowledgedBy string, tenants []string) error {
	_, err := s.GetByID(ctx, readingID, tenants)
	if err != nil {
		return err
	}

	err = s.storage.AcknowledgeReading(ctx, readingID, acknowledgedBy, time.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyAcknowledged) {
			return ErrAlreadyAcknowledged
		}
		if errors.Is(err, storage.ErrNoRows) {
			return ErrReadingNotFound
		}
		return err
	}

	return nil
}

func validate(in IncomingReading) error {
	if in.Location == nil {
		return ValidationError{Field: "location", Reason: "missing required field"}
	}

	hasSensorPayload := len(in.SensorPayload) > 0
	hasReviewPayload := in.ReviewPayload != nil

	if hasSensorPayload && hasReviewPayload {
		return ValidationError{Field: "payload", Reason: "exactly one of sensorPayload or reviewPayload is allowed"}
	}

	switch in.Source {
	case types.SourceSensor:
		if in.DeviceID == "" {
			return ValidationError{Field: "deviceID", Reason: "required for sensor readings"}
		}
		if !hasSensorPayload {
			return ValidationError{Field: "sensorPayload", Reason: "missing required field"}
		}
	case types.SourceHumanReview, types.SourceManual:
		if in.DeviceID != "" {
			return ValidationError{Field: "deviceID", Reason: "only allowed for sensor readings"}
		}
		if !hasSensorPayload && !hasReviewPayload {
			return ValidationError{Field: "sensorPayload", Reason: "a sensor or review payload is required"}
		}
	default:
		return ValidationError{Field: "source", Reason: "must be one of sensor, human_review or manual"}
	}

	if in.ReviewPayload != nil {
		for _, rating := range []int{in.ReviewPayload.OverallRating, in.ReviewPayload.TasteRating, in.ReviewPayload.ClarityRating, in.ReviewPayload.OdorRating} {
			if rating < 0 || rating > 5 {
				return ValidationError{Field: "reviewPayload", Reason: "ratings range from 1 to 5"}
			}
		}
	}

	return nil
}

// applyCalibration adjusts raw sensor values with the device's per parameter
// calibration offsets before scoring and threshold evaluation.
func applyCalibration(payload map[string]types.Measurement, calibration map[string]types.Calibration) map[string]types.Measurement {
	if len(calibration) == 0 {
		return payload
	}

	adjusted := make(map[string]types.Measurement, len(payload))
	for parameter, m := range payload {
		if c, ok := calibration[parameter]; ok {
			m.Value += c.Offset
		}
		adjusted[parameter] = m
	}

	return adjusted
}
